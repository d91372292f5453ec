package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/config"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"

	pmqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	qos             = 1
	disconnectQuiet = 250
)

var ErrInvalidTopic = errors.New("invalid telemetry topic")

type Ingester interface {
	Ingest(ctx context.Context, req *domain.IngestRequest) (*domain.IngestResponse, error)
}

// Subscriber передаёт телеметрию из топиков <prefix>/<deviceType>/<deviceId> в сервис приёма.
type Subscriber struct {
	cfg      config.MQTTConfig
	ingester Ingester
	logger   *zap.Logger
}

func NewSubscriber(cfg config.MQTTConfig, ingester Ingester, logger *zap.Logger) *Subscriber {
	return &Subscriber{cfg: cfg, ingester: ingester, logger: logger}
}

func (s *Subscriber) Topic() string {
	return strings.TrimSuffix(s.cfg.TopicPrefix, "/") + "/+/+"
}

// Start подключается и блокируется до отмены ctx. Подписка восстанавливается при каждом
// переподключении.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := pmqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ pmqtt.Client, err error) {
			s.logger.Warn("[MQTT] Connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c pmqtt.Client) {
			s.logger.Info("[MQTT] Connected", zap.String("broker", s.cfg.BrokerURL))
			s.subscribe(ctx, c)
		})

	client := pmqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}

	<-ctx.Done()
	client.Disconnect(disconnectQuiet)
	s.logger.Info("[MQTT] Disconnected")
	return nil
}

func (s *Subscriber) subscribe(ctx context.Context, c pmqtt.Client) {
	topic := s.Topic()
	token := c.Subscribe(topic, qos, func(_ pmqtt.Client, msg pmqtt.Message) {
		_ = s.HandleMessage(ctx, msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		s.logger.Error("[MQTT] Subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		return
	}
	s.logger.Info("[MQTT] Subscribed", zap.String("topic", topic))
}

// HandleMessage принимает одно сообщение телеметрии. Отказы только логируются: вернуть их
// устройству через MQTT нельзя.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	deviceType, deviceID, err := ParseTopic(s.cfg.TopicPrefix, topic)
	if err != nil {
		s.logger.Warn("[MQTT] Ignoring message", zap.String("topic", topic), zap.Error(err))
		return err
	}

	resp, err := s.ingester.Ingest(ctx, &domain.IngestRequest{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		RawData:    string(payload),
	})
	if err != nil {
		s.logger.Warn("[MQTT] Reading rejected",
			zap.String("device_id", deviceID),
			zap.String("device_type", deviceType.String()),
			zap.Error(err))
		return err
	}

	s.logger.Debug("[MQTT] Reading accepted",
		zap.String("reading_id", resp.ID.String()),
		zap.String("device_id", deviceID))
	return nil
}

// ParseTopic разбирает <prefix>/<deviceType>/<deviceId>
func ParseTopic(prefix, topic string) (domain.DeviceType, string, error) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return 0, "", fmt.Errorf("%w: %q outside %q", ErrInvalidTopic, topic, prefix)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	deviceType, err := domain.ParseDeviceType(parts[0])
	if err != nil {
		return 0, "", err
	}
	return deviceType, parts[1], nil
}
