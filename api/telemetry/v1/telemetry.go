// Package telemetryv1 описывает gRPC API сервиса телеметрии: сообщения, дескриптор
// сервиса и клиент. Сообщения передаются в JSON (см. CodecName).
package telemetryv1

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "agro.telemetry.v1.TelemetryService"

const (
	IngestReadingMethod       = "/" + ServiceName + "/IngestReading"
	GetReadingsByPeriodMethod = "/" + ServiceName + "/GetReadingsByPeriod"
	GetAlertsByPlotMethod     = "/" + ServiceName + "/GetAlertsByPlot"
	HealthMethod              = "/" + ServiceName + "/Health"
)

// Время во всех сообщениях передаётся строкой в формате RFC3339.

type IngestReadingRequest struct {
	PlotID          string `json:"plot_id,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
	DeviceType      int32  `json:"device_type"`
	RawData         string `json:"raw_data"`
	DeviceTimestamp string `json:"device_timestamp,omitempty"`
}

type IngestReadingResponse struct {
	ID         string `json:"id"`
	PlotID     string `json:"plot_id"`
	DeviceType int32  `json:"device_type"`
	ReceivedAt string `json:"received_at"`
	Status     string `json:"status"`
}

type ReadingsRequest struct {
	PlotID    string `json:"plot_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type Reading struct {
	ID               string `json:"id"`
	PlotID           string `json:"plot_id"`
	DeviceType       int32  `json:"device_type"`
	RawData          string `json:"raw_data"`
	DeviceTimestamp  string `json:"device_timestamp"`
	ReceivedAt       string `json:"received_at"`
	ProcessingStatus string `json:"processing_status"`
}

type ReadingsResponse struct {
	Readings []*Reading `json:"readings"`
}

type AlertsRequest struct {
	PlotID string `json:"plot_id"`
}

type Alert struct {
	ID          string `json:"id"`
	PlotID      string `json:"plot_id"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
	ResolvedAt  string `json:"resolved_at,omitempty"`
	IsActive    bool   `json:"is_active"`
}

type AlertsResponse struct {
	Alerts []*Alert `json:"alerts"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status string `json:"status"`
}

// TelemetryServiceServer реализуется адаптером internal/grpc.
type TelemetryServiceServer interface {
	IngestReading(context.Context, *IngestReadingRequest) (*IngestReadingResponse, error)
	GetReadingsByPeriod(context.Context, *ReadingsRequest) (*ReadingsResponse, error)
	GetAlertsByPlot(context.Context, *AlertsRequest) (*AlertsResponse, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
}

// unaryHandler связывает метод сервера с цепочкой интерсепторов grpc.Server.
func unaryHandler[Req, Resp any](fullMethod string, call func(TelemetryServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TelemetryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TelemetryServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "IngestReading",
			Handler:    unaryHandler(IngestReadingMethod, TelemetryServiceServer.IngestReading),
		},
		{
			MethodName: "GetReadingsByPeriod",
			Handler:    unaryHandler(GetReadingsByPeriodMethod, TelemetryServiceServer.GetReadingsByPeriod),
		},
		{
			MethodName: "GetAlertsByPlot",
			Handler:    unaryHandler(GetAlertsByPlotMethod, TelemetryServiceServer.GetAlertsByPlot),
		},
		{
			MethodName: "Health",
			Handler:    unaryHandler(HealthMethod, TelemetryServiceServer.Health),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agro/telemetry/v1",
}

func RegisterTelemetryServiceServer(s grpc.ServiceRegistrar, srv TelemetryServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type TelemetryServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTelemetryServiceClient(cc grpc.ClientConnInterface) *TelemetryServiceClient {
	return &TelemetryServiceClient{cc: cc}
}

func (c *TelemetryServiceClient) IngestReading(ctx context.Context, in *IngestReadingRequest, opts ...grpc.CallOption) (*IngestReadingResponse, error) {
	out := new(IngestReadingResponse)
	if err := c.invoke(ctx, IngestReadingMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TelemetryServiceClient) GetReadingsByPeriod(ctx context.Context, in *ReadingsRequest, opts ...grpc.CallOption) (*ReadingsResponse, error) {
	out := new(ReadingsResponse)
	if err := c.invoke(ctx, GetReadingsByPeriodMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TelemetryServiceClient) GetAlertsByPlot(ctx context.Context, in *AlertsRequest, opts ...grpc.CallOption) (*AlertsResponse, error) {
	out := new(AlertsResponse)
	if err := c.invoke(ctx, GetAlertsByPlotMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TelemetryServiceClient) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.invoke(ctx, HealthMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TelemetryServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, callOpts...)
}
