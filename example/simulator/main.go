package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/directory"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/pkg/utils"
)

type reading struct {
	PlotID          string            `json:"plotId,omitempty"`
	DeviceID        string            `json:"deviceId,omitempty"`
	DeviceType      domain.DeviceType `json:"deviceType"`
	RawData         json.RawMessage   `json:"rawData"`
	DeviceTimestamp time.Time         `json:"deviceTimestamp"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "service base URL")
	plot := flag.String("plot", "", "plot id; the demo device is used when empty")
	interval := flag.Duration("interval", time.Second, "delay between readings")
	count := flag.Int("count", 20, "number of readings to send, 0 for unlimited")
	flag.Parse()

	if *plot != "" && !utils.IsValidUUID(*plot) {
		log.Fatalf("Invalid plot id %q", *plot)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	payloads := utils.NewPayloadGenerator(time.Now().UnixNano())
	timestamps := utils.RecentTimeGenerator(time.Minute)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for sent := 0; *count == 0 || sent < *count; sent++ {
		dt := domain.DeviceTypes[sent%len(domain.DeviceTypes)]

		raw, err := payloads.Generate(dt, directory.DemoDeviceID)
		if err != nil {
			log.Fatalf("Failed to generate payload: %v", err)
		}

		r := reading{
			DeviceType:      dt,
			RawData:         json.RawMessage(raw),
			DeviceTimestamp: timestamps.Generate(),
		}
		if *plot != "" {
			r.PlotID = *plot
		} else {
			r.DeviceID = directory.DemoDeviceID
		}

		if err := post(ctx, client, *addr+"/api/v1/readings", r); err != nil {
			log.Printf("Reading %d (%s) failed: %v", sent+1, dt, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func post(ctx context.Context, client *http.Client, url string, r reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(out))
	}
	fmt.Printf("%s accepted: %s", r.DeviceType, out)
	return nil
}
