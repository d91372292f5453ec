package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/config"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/metrics"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

const (
	readingsCollection = "iot_readings"
	alertsCollection   = "alerts"
)

// Repository хранит показания и алерты в MongoDB. Идентификаторы хранятся строками.
type Repository struct {
	client   *mongo.Client
	readings *mongo.Collection
	alerts   *mongo.Collection
	logger   *zap.Logger
}

func NewMongoRepository(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*Repository, error) {
	opts := options.Client().
		ApplyURI(dbConfig.DBSource).
		SetMaxPoolSize(uint64(dbConfig.MaxDBConnections)).
		SetMinPoolSize(uint64(dbConfig.MinDBConnections)).
		SetMaxConnIdleTime(dbConfig.MaxConnIdleTime)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbConfig.DBName)
	r := &Repository{
		client:   client,
		readings: db.Collection(readingsCollection),
		alerts:   db.Collection(alertsCollection),
		logger:   logger,
	}

	if err := r.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return r, nil
}

func (r *Repository) ensureIndexes(ctx context.Context) error {
	readingIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "processing_status", Value: 1}, {Key: "received_at", Value: 1}}},
		{Keys: bson.D{{Key: "plot_id", Value: 1}, {Key: "received_at", Value: 1}}},
	}
	if _, err := r.readings.Indexes().CreateMany(ctx, readingIndexes); err != nil {
		return fmt.Errorf("failed to create reading indexes: %w", err)
	}

	alertIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "plot_id", Value: 1}, {Key: "type", Value: 1}},
			Options: options.Index().
				SetName("ux_alerts_active_plot_type").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "is_active", Value: true}}),
		},
		{Keys: bson.D{{Key: "plot_id", Value: 1}, {Key: "triggered_at", Value: -1}}},
	}
	if _, err := r.alerts.Indexes().CreateMany(ctx, alertIndexes); err != nil {
		return fmt.Errorf("failed to create alert indexes: %w", err)
	}

	r.logger.Info("MongoDB indexes ensured")
	return nil
}

func observe(operation string, start time.Time) {
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

type readingDocument struct {
	ID                    string     `bson:"_id"`
	PlotID                string     `bson:"plot_id"`
	DeviceType            int        `bson:"device_type"`
	RawData               string     `bson:"raw_data"`
	DeviceTimestamp       time.Time  `bson:"device_timestamp"`
	ReceivedAt            time.Time  `bson:"received_at"`
	ProcessingStatus      int        `bson:"processing_status"`
	QueueToken            *string    `bson:"processing_queue_id"`
	ProcessingStartedAt   *time.Time `bson:"processing_started_at"`
	ProcessingCompletedAt *time.Time `bson:"processing_completed_at"`
	ErrorMessage          *string    `bson:"error_message"`
}

func toReadingDocument(r *domain.Reading) readingDocument {
	return readingDocument{
		ID:                    r.ID.String(),
		PlotID:                r.PlotID.String(),
		DeviceType:            int(r.DeviceType),
		RawData:               r.RawPayload,
		DeviceTimestamp:       r.DeviceTimestamp,
		ReceivedAt:            r.ReceivedAt,
		ProcessingStatus:      int(r.ProcessingStatus),
		QueueToken:            r.QueueToken,
		ProcessingStartedAt:   r.ProcessingStartedAt,
		ProcessingCompletedAt: r.ProcessingCompletedAt,
		ErrorMessage:          r.ErrorMessage,
	}
}

func (d readingDocument) toDomain() (*domain.Reading, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid reading id %q: %w", d.ID, err)
	}
	plotID, err := uuid.Parse(d.PlotID)
	if err != nil {
		return nil, fmt.Errorf("invalid plot id %q: %w", d.PlotID, err)
	}
	return &domain.Reading{
		ID:                    id,
		PlotID:                plotID,
		DeviceType:            domain.DeviceType(d.DeviceType),
		RawPayload:            d.RawData,
		DeviceTimestamp:       d.DeviceTimestamp,
		ReceivedAt:            d.ReceivedAt,
		ProcessingStatus:      domain.ProcessingStatus(d.ProcessingStatus),
		QueueToken:            d.QueueToken,
		ProcessingStartedAt:   d.ProcessingStartedAt,
		ProcessingCompletedAt: d.ProcessingCompletedAt,
		ErrorMessage:          d.ErrorMessage,
	}, nil
}

type alertDocument struct {
	ID          string     `bson:"_id"`
	PlotID      string     `bson:"plot_id"`
	Type        int        `bson:"type"`
	Message     string     `bson:"message"`
	TriggeredAt time.Time  `bson:"triggered_at"`
	ResolvedAt  *time.Time `bson:"resolved_at"`
	IsActive    bool       `bson:"is_active"`
}

func toAlertDocument(a *domain.Alert) alertDocument {
	return alertDocument{
		ID:          a.ID.String(),
		PlotID:      a.PlotID.String(),
		Type:        int(a.Type),
		Message:     a.Message,
		TriggeredAt: a.TriggeredAt,
		ResolvedAt:  a.ResolvedAt,
		IsActive:    a.IsActive,
	}
}

func (d alertDocument) toDomain() (*domain.Alert, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid alert id %q: %w", d.ID, err)
	}
	plotID, err := uuid.Parse(d.PlotID)
	if err != nil {
		return nil, fmt.Errorf("invalid plot id %q: %w", d.PlotID, err)
	}
	return &domain.Alert{
		ID:          id,
		PlotID:      plotID,
		Type:        domain.AlertType(d.Type),
		Message:     d.Message,
		TriggeredAt: d.TriggeredAt,
		ResolvedAt:  d.ResolvedAt,
		IsActive:    d.IsActive,
	}, nil
}

func (r *Repository) AddReading(ctx context.Context, reading *domain.Reading) error {
	defer observe("add_reading", time.Now())

	if _, err := r.readings.InsertOne(ctx, toReadingDocument(reading)); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

func (r *Repository) GetReadingByID(ctx context.Context, id uuid.UUID) (*domain.Reading, error) {
	defer observe("get_reading_by_id", time.Now())

	var doc readingDocument
	err := r.readings.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reading: %w", err)
	}
	return doc.toDomain()
}

func (r *Repository) GetPendingReadings(ctx context.Context, limit int) ([]*domain.Reading, error) {
	defer observe("get_pending_readings", time.Now())

	filter := bson.D{{Key: "processing_status", Value: int(domain.StatusPending)}}
	opts := options.Find().
		SetSort(bson.D{{Key: "received_at", Value: 1}}).
		SetLimit(int64(limit))

	return r.findReadings(ctx, filter, opts)
}

// updateReadingFilter находит запись, только пока её статус не терминальный
func updateReadingFilter(id uuid.UUID) bson.D {
	terminal := make(bson.A, 0, len(domain.TerminalStatuses))
	for _, s := range domain.TerminalStatuses {
		terminal = append(terminal, int(s))
	}
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "processing_status", Value: bson.D{{Key: "$nin", Value: terminal}}},
	}
}

func (r *Repository) UpdateReading(ctx context.Context, reading *domain.Reading) error {
	defer observe("update_reading", time.Now())

	filter := updateReadingFilter(reading.ID)
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "processing_status", Value: int(reading.ProcessingStatus)},
		{Key: "processing_queue_id", Value: reading.QueueToken},
		{Key: "processing_started_at", Value: reading.ProcessingStartedAt},
		{Key: "processing_completed_at", Value: reading.ProcessingCompletedAt},
		{Key: "error_message", Value: reading.ErrorMessage},
	}}}

	res, err := r.readings.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update reading: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrReadingNotUpdated
	}
	return nil
}

func (r *Repository) GetReadingsByPlotAndRange(ctx context.Context, plotID uuid.UUID, from, to time.Time) ([]*domain.Reading, error) {
	defer observe("get_readings_by_plot_and_range", time.Now())

	filter := bson.D{
		{Key: "plot_id", Value: plotID.String()},
		{Key: "received_at", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lte", Value: to}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}})

	return r.findReadings(ctx, filter, opts)
}

func (r *Repository) findReadings(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]*domain.Reading, error) {
	cursor, err := r.readings.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}

	var docs []readingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode readings: %w", err)
	}

	results := make([]*domain.Reading, 0, len(docs))
	for _, doc := range docs {
		reading, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, reading)
	}
	return results, nil
}

func (r *Repository) AddAlert(ctx context.Context, alert *domain.Alert) error {
	defer observe("add_alert", time.Now())

	if _, err := r.alerts.InsertOne(ctx, toAlertDocument(alert)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrActiveAlertExists
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *Repository) GetActiveAlert(ctx context.Context, plotID uuid.UUID, alertType domain.AlertType) (*domain.Alert, error) {
	defer observe("get_active_alert", time.Now())

	filter := bson.D{
		{Key: "plot_id", Value: plotID.String()},
		{Key: "type", Value: int(alertType)},
		{Key: "is_active", Value: true},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "triggered_at", Value: -1}})

	var doc alertDocument
	if err := r.alerts.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active alert: %w", err)
	}
	return doc.toDomain()
}

func (r *Repository) UpdateAlert(ctx context.Context, alert *domain.Alert) error {
	defer observe("update_alert", time.Now())

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "message", Value: alert.Message},
		{Key: "is_active", Value: alert.IsActive},
		{Key: "resolved_at", Value: alert.ResolvedAt},
	}}}

	res, err := r.alerts.UpdateOne(ctx, bson.D{{Key: "_id", Value: alert.ID.String()}}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrActiveAlertExists
		}
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

func (r *Repository) GetAlertsByPlot(ctx context.Context, plotID uuid.UUID) ([]*domain.Alert, error) {
	defer observe("get_alerts_by_plot", time.Now())

	opts := options.Find().SetSort(bson.D{{Key: "triggered_at", Value: -1}})
	cursor, err := r.alerts.Find(ctx, bson.D{{Key: "plot_id", Value: plotID.String()}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	var docs []alertDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}

	results := make([]*domain.Alert, 0, len(docs))
	for _, doc := range docs {
		alert, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, alert)
	}
	return results, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	defer observe("health_check", time.Now())
	return r.client.Ping(ctx, readpref.Primary())
}

func (r *Repository) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Disconnect(ctx); err != nil {
		r.logger.Warn("MongoDB disconnect failed", zap.Error(err))
	}
}
