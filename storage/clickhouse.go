package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"watchtower/core"
)

// ClickHouse is the metric-history store. Agent runs append metric samples;
// the baseline service reads them back newest-first per (agent, action).
type ClickHouse struct {
	Conn   driver.Conn
	logger *zap.SugaredLogger
}

// ClickHouseOptions carries connection parameters.
type ClickHouseOptions struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	MaxPoolSize int
}

// NewClickHouse creates a new ClickHouse connection and ensures the metric
// samples table exists.
func NewClickHouse(opts ClickHouseOptions, logger *zap.SugaredLogger) (*ClickHouse, error) {
	poolSize := opts.MaxPoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:    poolSize,
		MaxIdleConns:    poolSize / 2,
		ConnMaxLifetime: 1 * time.Hour,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			d.Timeout = 10 * time.Second
			d.KeepAlive = 30 * time.Second
			return d.DialContext(ctx, "tcp", addr)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("Connected to ClickHouse successfully")

	ch := &ClickHouse{Conn: conn, logger: logger}
	if err := ch.createTablesIfNotExist(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure tables exist: %w", err)
	}
	return ch, nil
}

// HealthCheck performs a liveness ping against ClickHouse.
func (ch *ClickHouse) HealthCheck(ctx context.Context) error {
	return ch.Conn.Ping(ctx)
}

// createTablesIfNotExist creates the metric_samples table if missing.
func (ch *ClickHouse) createTablesIfNotExist(ctx context.Context) error {
	table := `
	CREATE TABLE IF NOT EXISTS metric_samples (
		agent_name LowCardinality(String),
		action LowCardinality(String),
		metrics String,
		recorded_at DateTime64(3, 'UTC'),
		INDEX idx_agent agent_name TYPE bloom_filter(0.01) GRANULARITY 1
	) ENGINE = MergeTree()
	ORDER BY (agent_name, action, recorded_at)
	TTL toDateTime(recorded_at) + INTERVAL 180 DAY`

	if err := ch.Conn.Exec(ctx, table); err != nil {
		return fmt.Errorf("failed to create metric_samples table: %w", err)
	}
	return nil
}

// InsertSample appends one metric sample. A zero RecordedAt is stamped
// with the current time; the table TTL would expire a zero-dated row
// immediately.
func (ch *ClickHouse) InsertSample(ctx context.Context, sample core.MetricSample) error {
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(sample.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	err = ch.Conn.Exec(ctx,
		"INSERT INTO metric_samples (agent_name, action, metrics, recorded_at) VALUES (?, ?, ?, ?)",
		sample.AgentName, sample.Action, string(payload), sample.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert metric sample: %w", err)
	}
	return nil
}

// RecentSamples returns the most recent samples for (agent, action),
// newest first, up to limit. ErrNoSamples is returned when the pair has
// no history at all.
func (ch *ClickHouse) RecentSamples(ctx context.Context, agentName, action string, limit int) ([]core.MetricSample, error) {
	rows, err := ch.Conn.Query(ctx,
		`SELECT agent_name, action, metrics, recorded_at
		 FROM metric_samples
		 WHERE agent_name = ? AND action = ?
		 ORDER BY recorded_at DESC
		 LIMIT ?`,
		agentName, action, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric samples: %w", err)
	}
	defer rows.Close()

	var samples []core.MetricSample
	for rows.Next() {
		var (
			sample  core.MetricSample
			payload string
		)
		if err := rows.Scan(&sample.AgentName, &sample.Action, &payload, &sample.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric sample: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &sample.Metrics); err != nil {
			// A corrupt row degrades only itself.
			ch.logger.Warnw("Skipping undecodable metric sample", "agent", sample.AgentName, "error", err)
			continue
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metric samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", agentName, action, ErrNoSamples)
	}
	return samples, nil
}

// Close closes the ClickHouse connection.
func (ch *ClickHouse) Close() error {
	return ch.Conn.Close()
}
