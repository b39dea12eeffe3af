package domain

import (
	"context"
	"errors"
	"time"
)

// Storage errors shared by all repository and cache backends.
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository is the audit store for prediction results. All methods require
// tenantID for strict multi-tenancy isolation. Retention is applied by the
// store, not by callers: records past the configured window are removed by
// PurgeExpired.
type Repository interface {
	// SavePrediction appends a prediction record to the audit trail.
	SavePrediction(ctx context.Context, tenantID string, result *PredictionResult) error

	// GetPrediction retrieves a prediction by its composite ID.
	GetPrediction(ctx context.Context, tenantID string, predictionID string) (*PredictionResult, error)

	// ListPredictionsByOrder retrieves the audit trail for an order,
	// newest first.
	ListPredictionsByOrder(ctx context.Context, tenantID string, orderID string) ([]*PredictionResult, error)

	// PurgeExpired removes records past their retention window and
	// returns the number removed.
	PurgeExpired(ctx context.Context) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Retention is how long audit records are kept. Zero means the
	// default of 90 days.
	Retention time.Duration

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultRetention is the audit retention window applied when none is
// configured.
const DefaultRetention = 90 * 24 * time.Hour
