package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	pb "github.com/CoolE88/agro-telemetry-service/api/telemetry/v1"
	"github.com/CoolE88/agro-telemetry-service/internal/directory"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/pkg/utils"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

func main() {
	addr := flag.String("addr", "localhost:9090", "gRPC server address")
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection: %v", err)
		}
	}()

	client := pb.NewTelemetryServiceClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Тест 1: IngestReading
	fmt.Println("=== Test 1: IngestReading ===")
	testIngestReading(ctx, client)

	// Тест 2: GetReadingsByPeriod
	fmt.Println("\n=== Test 2: GetReadingsByPeriod ===")
	testGetReadingsByPeriod(ctx, client)

	// Тест 3: GetAlertsByPlot
	fmt.Println("\n=== Test 3: GetAlertsByPlot ===")
	testGetAlertsByPlot(ctx, client)

	// Тест 4: Ошибки валидации
	fmt.Println("\n=== Test 4: Validation Errors ===")
	testValidationErrors(ctx, client)
}

func logError(err error) {
	if st, ok := status.FromError(err); ok {
		log.Printf("gRPC error: %s (code: %s)", st.Message(), st.Code())
	} else {
		log.Printf("Error: %v", err)
	}
}

func testIngestReading(ctx context.Context, client *pb.TelemetryServiceClient) {
	payloads := utils.NewPayloadGenerator(time.Now().UnixNano())

	for _, dt := range domain.DeviceTypes {
		raw, err := payloads.Generate(dt, directory.DemoDeviceID)
		if err != nil {
			log.Printf("Failed to generate payload: %v", err)
			continue
		}

		resp, err := client.IngestReading(ctx, &pb.IngestReadingRequest{
			DeviceID:        directory.DemoDeviceID,
			DeviceType:      int32(dt),
			RawData:         raw,
			DeviceTimestamp: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			logError(err)
			continue
		}
		fmt.Printf("%s: id=%s plot=%s status=%q\n", dt, resp.ID, resp.PlotID, resp.Status)
	}
}

func testGetReadingsByPeriod(ctx context.Context, client *pb.TelemetryServiceClient) {
	req := &pb.ReadingsRequest{
		PlotID:    directory.DemoPlotID.String(),
		StartTime: time.Now().Add(-24 * time.Hour).Format(time.RFC3339),
		EndTime:   time.Now().Add(time.Minute).Format(time.RFC3339),
	}

	resp, err := client.GetReadingsByPeriod(ctx, req)
	if err != nil {
		logError(err)
		return
	}

	fmt.Printf("Found %d readings:\n", len(resp.Readings))
	for i, r := range resp.Readings {
		fmt.Printf("%d. ID: %s, Type: %d, Status: %s\n", i+1, r.ID, r.DeviceType, r.ProcessingStatus)
	}
}

func testGetAlertsByPlot(ctx context.Context, client *pb.TelemetryServiceClient) {
	resp, err := client.GetAlertsByPlot(ctx, &pb.AlertsRequest{PlotID: directory.DemoPlotID.String()})
	if err != nil {
		logError(err)
		return
	}

	fmt.Printf("Found %d alerts:\n", len(resp.Alerts))
	for i, a := range resp.Alerts {
		fmt.Printf("%d. %s active=%t: %s\n", i+1, a.Type, a.IsActive, a.Message)
	}
}

func testValidationErrors(ctx context.Context, client *pb.TelemetryServiceClient) {
	// Тест пустого периода
	fmt.Println("Testing empty time period...")
	_, err := client.GetReadingsByPeriod(ctx, &pb.ReadingsRequest{PlotID: directory.DemoPlotID.String()})
	printExpected(err)

	// Тест невалидного payload
	fmt.Println("Testing out-of-range humidity...")
	_, err = client.IngestReading(ctx, &pb.IngestReadingRequest{
		DeviceID:   directory.DemoDeviceID,
		DeviceType: int32(domain.HumiditySensor),
		RawData:    `{"value": 150}`,
	})
	printExpected(err)

	// Тест неизвестного устройства
	fmt.Println("Testing unknown device...")
	_, err = client.IngestReading(ctx, &pb.IngestReadingRequest{
		DeviceID:   "unknown-node",
		DeviceType: int32(domain.HumiditySensor),
		RawData:    `{"value": 40}`,
	})
	if status.Code(err) == codes.NotFound {
		fmt.Println("Device unknown-node not found")
		return
	}
	printExpected(err)
}

func printExpected(err error) {
	if st, ok := status.FromError(err); ok && err != nil {
		fmt.Printf("Expected error: %s (code: %s)\n", st.Message(), st.Code())
	}
}
