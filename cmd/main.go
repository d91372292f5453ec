package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/alerting"
	"github.com/CoolE88/agro-telemetry-service/internal/broker"
	"github.com/CoolE88/agro-telemetry-service/internal/config"
	"github.com/CoolE88/agro-telemetry-service/internal/consumer"
	"github.com/CoolE88/agro-telemetry-service/internal/directory"
	appgrpc "github.com/CoolE88/agro-telemetry-service/internal/grpc"
	apphttp "github.com/CoolE88/agro-telemetry-service/internal/http"
	applogger "github.com/CoolE88/agro-telemetry-service/internal/logger"
	"github.com/CoolE88/agro-telemetry-service/internal/mqtt"
	"github.com/CoolE88/agro-telemetry-service/internal/outbox"
	"github.com/CoolE88/agro-telemetry-service/internal/repository"
	"github.com/CoolE88/agro-telemetry-service/internal/service"
	"github.com/CoolE88/agro-telemetry-service/internal/stream"
	"github.com/CoolE88/agro-telemetry-service/internal/validation"

	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := applogger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting Agro Telemetry Service",
		zap.String("db_driver", cfg.DBConfig.DBDriver),
		zap.String("rest_port", cfg.RESTPort),
		zap.String("grpc_port", cfg.GRPCPort))

	store, err := repository.Open(ctx, cfg.DBConfig, logger)
	if err != nil {
		logger.Error("Failed to open store", zap.Error(err))
		return
	}
	defer func() {
		store.Close()
		logger.Info("Store closed")
	}()

	devices := directory.NewDirectory(logger)
	if cfg.DeviceDirectoryFile != "" {
		if err := devices.LoadFile(cfg.DeviceDirectoryFile); err != nil {
			logger.Error("Failed to load device directory", zap.Error(err))
			return
		}
	}

	dataService := service.NewDataService(store, store, devices, validation.DefaultRegistry(), logger)

	amqpBroker := broker.New(cfg.Broker, logger)
	if err := amqpBroker.Connect(ctx); err != nil {
		logger.Error("Failed to connect to broker", zap.Error(err))
		return
	}
	defer func() {
		if err := amqpBroker.Close(); err != nil {
			logger.Warn("Broker close failed", zap.Error(err))
		}
	}()

	hub := stream.NewHub(logger)
	engine := alerting.NewEngine(store, store, alertingConfig(cfg.Alerts), hub, logger)

	relay := outbox.NewOutbox(store, amqpBroker, outbox.Config{
		PollInterval: cfg.Producer.PollInterval,
		BatchSize:    cfg.Producer.BatchSize,
		RoutingKeys:  amqpBroker.Topology().RoutingKeys(),
	}, logger)

	deliveries := consumer.NewConsumer(amqpBroker, store, engine, consumer.Config{
		Queues:     amqpBroker.Topology().Queues(),
		Prefetch:   cfg.Consumer.PrefetchCount,
		RetryDelay: cfg.Consumer.RetryDelay,
	}, logger)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { hub.Run(ctx) })
	run(func() { relay.Start(ctx) })
	run(func() { deliveries.Start(ctx) })

	if cfg.MQTT.BrokerURL != "" {
		subscriber := mqtt.NewSubscriber(cfg.MQTT, dataService, logger)
		run(func() {
			if err := subscriber.Start(ctx); err != nil {
				logger.Error("MQTT ingestion stopped", zap.Error(err))
			}
		})
	}

	httpServer := apphttp.NewHTTPServer(cfg.RESTPort, dataService, amqpBroker, http.HandlerFunc(hub.ServeWS), logger)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// Запуск gRPC сервера
	grpcServer := appgrpc.NewGRPCServer(dataService, logger)
	go func() {
		if err := grpcServer.Start(cfg.GRPCPort); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	// Отменяем контекст: останавливаем outbox и консьюмеры, активные сообщения дообрабатываются
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("gRPC server shutdown due to timeout")
		} else {
			logger.Error("gRPC server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Agro Telemetry Service stopped")
}

func alertingConfig(cfg config.AlertConfig) alerting.Config {
	rule := func(r config.AlertRuleConfig) alerting.RuleConfig {
		return alerting.RuleConfig{Window: r.Window, MinReadings: r.MinReadings, Threshold: r.Threshold}
	}
	return alerting.Config{
		Drought:     rule(cfg.Drought),
		ExtremeHeat: rule(cfg.ExtremeHeat),
		HeavyRain:   rule(cfg.HeavyRain),
	}
}
