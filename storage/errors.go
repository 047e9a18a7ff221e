package storage

import "errors"

// Storage error constants
var (
	// ErrIssueNotFound is returned when an issue is not found
	ErrIssueNotFound = errors.New("issue not found")

	// ErrNoSamples is returned when a history query matches no metric samples
	ErrNoSamples = errors.New("no metric samples in window")

	// ErrNoBackupObjects is returned when a backup bucket prefix holds no objects
	ErrNoBackupObjects = errors.New("no backup objects found")

	// ErrDatabaseClosed is returned when attempting to use a closed connection
	ErrDatabaseClosed = errors.New("database is closed")
)
