package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"watchtower/core"
)

// MongoDB is the document store for health-report history, smoke-test
// reports, and correlation reports.
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	logger   *zap.SugaredLogger
}

const (
	collHealthReports      = "health_reports"
	collSmokeReports       = "smoke_reports"
	collCorrelationReports = "correlation_reports"
)

// NewMongoDB connects to MongoDB and verifies the connection with a ping.
func NewMongoDB(uri, dbName string, maxPoolSize uint64, logger *zap.SugaredLogger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB successfully")

	return &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
		logger:   logger,
	}, nil
}

// HealthCheck performs a liveness ping against MongoDB.
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// DBStats returns basic database statistics; used by the smoke-test runner
// as a read-only shared-infrastructure probe.
func (m *MongoDB) DBStats(ctx context.Context) (map[string]interface{}, error) {
	var stats bson.M
	cmd := bson.D{{Key: "dbStats", Value: 1}}
	if err := m.Database.RunCommand(ctx, cmd).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to read dbStats: %w", err)
	}
	return stats, nil
}

// SaveHealthReport appends a health report to history.
func (m *MongoDB) SaveHealthReport(ctx context.Context, report *core.HealthReport) error {
	_, err := m.Database.Collection(collHealthReports).InsertOne(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to save health report: %w", err)
	}
	return nil
}

// RecentHealthReports returns the most recent health reports, newest first.
func (m *MongoDB) RecentHealthReports(ctx context.Context, limit int) ([]core.HealthReport, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := m.Database.Collection(collHealthReports).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query health reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []core.HealthReport
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode health reports: %w", err)
	}
	return reports, nil
}

// SaveSmokeReport appends a smoke-test report.
func (m *MongoDB) SaveSmokeReport(ctx context.Context, report *core.SmokeTestReport) error {
	_, err := m.Database.Collection(collSmokeReports).InsertOne(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to save smoke report: %w", err)
	}
	return nil
}

// SaveCorrelationReport appends a correlation report.
func (m *MongoDB) SaveCorrelationReport(ctx context.Context, report *core.CorrelationReport) error {
	_, err := m.Database.Collection(collCorrelationReports).InsertOne(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to save correlation report: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
