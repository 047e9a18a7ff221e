package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"watchtower/core"
)

// SQLite is the durable issue store. It implements core.IssueStore: issues
// are never deleted, only moved through their lifecycle, and issue-id
// sequence allocation is transactional so concurrent raisers cannot collide.
type SQLite struct {
	DB     *sql.DB
	Path   string
	logger *zap.SugaredLogger
}

// NewSQLite opens (or creates) the issue database at dbPath with WAL mode
// and runs schema migrations.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// WAL allows concurrent readers while the tracker writes. A single
	// writer connection sidesteps SQLITE_BUSY under concurrent raisers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := &SQLite{DB: db, Path: dbPath, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof("SQLite issue store ready at %s", dbPath)
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS issues (
		issue_id        TEXT PRIMARY KEY,
		agent_name      TEXT NOT NULL,
		severity        TEXT NOT NULL,
		category        TEXT NOT NULL,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		details         TEXT NOT NULL DEFAULT '{}',
		status          TEXT NOT NULL,
		detected_at     TEXT NOT NULL,
		acknowledged_at TEXT,
		resolved_at     TEXT,
		resolution      TEXT NOT NULL DEFAULT '',
		fingerprint     TEXT NOT NULL,
		occurrences     INTEGER NOT NULL DEFAULT 1,
		last_seen_at    TEXT NOT NULL,
		sla_target      TEXT,
		destination_id  TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_issues_fingerprint ON issues(fingerprint, status);
	CREATE INDEX IF NOT EXISTS idx_issues_agent_category ON issues(agent_name, category, status);

	CREATE TABLE IF NOT EXISTS issue_sequences (
		date_key TEXT PRIMARY KEY,
		next_seq INTEGER NOT NULL
	);`

	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate issue schema: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *SQLite) HealthCheck() error {
	if s.DB == nil {
		return ErrDatabaseClosed
	}
	return s.DB.Ping()
}

// terminalStatuses matches the terminal states in the issue lifecycle.
const terminalStatuses = "('resolved','wont_fix','auto_closed')"

// FindActiveByFingerprint returns the non-terminal issue with the given
// fingerprint, or nil when none exists.
func (s *SQLite) FindActiveByFingerprint(ctx context.Context, fingerprint string) (*core.AgentIssue, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues
		 WHERE fingerprint = ? AND status NOT IN `+terminalStatuses+`
		 LIMIT 1`, fingerprint)

	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query issue by fingerprint: %w", err)
	}
	return issue, nil
}

// NextSequence allocates the next issue number for a date key inside a
// transaction, so concurrent raisers always receive distinct numbers.
func (s *SQLite) NextSequence(ctx context.Context, dateKey string) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sequence transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO issue_sequences (date_key, next_seq) VALUES (?, 1)
		 ON CONFLICT(date_key) DO UPDATE SET next_seq = next_seq + 1
		 RETURNING next_seq`, dateKey).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence for %s: %w", dateKey, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sequence allocation: %w", err)
	}
	return seq, nil
}

const issueColumns = `issue_id, agent_name, severity, category, title, description,
	details, status, detected_at, acknowledged_at, resolved_at, resolution,
	fingerprint, occurrences, last_seen_at, sla_target, destination_id`

// InsertIssue persists a new issue record.
func (s *SQLite) InsertIssue(ctx context.Context, issue *core.AgentIssue) error {
	details, err := json.Marshal(issue.Details)
	if err != nil {
		return fmt.Errorf("failed to encode issue details: %w", err)
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO issues (`+issueColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.IssueID, issue.AgentName, string(issue.Severity), issue.Category,
		issue.Title, issue.Description, string(details), string(issue.Status),
		formatTime(&issue.DetectedAt), formatTime(issue.AcknowledgedAt),
		formatTime(issue.ResolvedAt), issue.Resolution, issue.Fingerprint,
		issue.OccurrenceCount, formatTime(&issue.LastSeenAt),
		formatTime(issue.SLATarget), issue.DestinationID)
	if err != nil {
		return fmt.Errorf("failed to insert issue %s: %w", issue.IssueID, err)
	}
	return nil
}

// UpdateIssue persists lifecycle and occurrence changes to an issue.
func (s *SQLite) UpdateIssue(ctx context.Context, issue *core.AgentIssue) error {
	details, err := json.Marshal(issue.Details)
	if err != nil {
		return fmt.Errorf("failed to encode issue details: %w", err)
	}

	res, err := s.DB.ExecContext(ctx,
		`UPDATE issues SET severity = ?, title = ?, description = ?, details = ?,
		 status = ?, acknowledged_at = ?, resolved_at = ?, resolution = ?,
		 occurrences = ?, last_seen_at = ?, sla_target = ?
		 WHERE issue_id = ?`,
		string(issue.Severity), issue.Title, issue.Description, string(details),
		string(issue.Status), formatTime(issue.AcknowledgedAt),
		formatTime(issue.ResolvedAt), issue.Resolution, issue.OccurrenceCount,
		formatTime(&issue.LastSeenAt), formatTime(issue.SLATarget), issue.IssueID)
	if err != nil {
		return fmt.Errorf("failed to update issue %s: %w", issue.IssueID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrIssueNotFound
	}
	return nil
}

// ActiveIssues returns all non-terminal issues, optionally narrowed by
// agent and category.
func (s *SQLite) ActiveIssues(ctx context.Context, agentName, category string) ([]core.AgentIssue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE status NOT IN ` + terminalStatuses
	args := []interface{}{}
	if agentName != "" {
		query += " AND agent_name = ?"
		args = append(args, agentName)
	}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY detected_at DESC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active issues: %w", err)
	}
	defer rows.Close()

	var issues []core.AgentIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issues: %w", err)
	}
	return issues, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.DB.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row rowScanner) (*core.AgentIssue, error) {
	var (
		issue                        core.AgentIssue
		severity, status, details    string
		detectedAt, lastSeenAt       string
		ackAt, resolvedAt, slaTarget sql.NullString
	)

	err := row.Scan(&issue.IssueID, &issue.AgentName, &severity, &issue.Category,
		&issue.Title, &issue.Description, &details, &status, &detectedAt,
		&ackAt, &resolvedAt, &issue.Resolution, &issue.Fingerprint,
		&issue.OccurrenceCount, &lastSeenAt, &slaTarget, &issue.DestinationID)
	if err != nil {
		return nil, err
	}

	issue.Severity = core.Severity(severity)
	issue.Status = core.IssueStatus(status)
	if err := json.Unmarshal([]byte(details), &issue.Details); err != nil {
		return nil, fmt.Errorf("failed to decode details for %s: %w", issue.IssueID, err)
	}
	if issue.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	if issue.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, err
	}
	if issue.AcknowledgedAt, err = parseNullTime(ackAt); err != nil {
		return nil, err
	}
	if issue.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	if issue.SLATarget, err = parseNullTime(slaTarget); err != nil {
		return nil, err
	}
	return &issue, nil
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
