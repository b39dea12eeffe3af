// Package repository provides the audit store for prediction results.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-retail/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db        *sql.DB
	driver    string
	retention time.Duration
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = domain.DefaultRetention
	}

	repo := &SQLRepository{
		db:        db,
		driver:    cfg.Driver,
		retention: retention,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SavePrediction appends a prediction record to the audit trail with
// tenant isolation. The retention deadline is stamped at write time.
func (r *SQLRepository) SavePrediction(ctx context.Context, tenantID string, result *domain.PredictionResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if result == nil || result.PredictionID == "" {
		return fmt.Errorf("%w: prediction is required", domain.ErrInvalidInput)
	}

	explanation, _ := json.Marshal(result.Explanation)

	query := `
		INSERT INTO predictions (
			prediction_id, tenant_id, order_id, risk_score, risk_level,
			recommended_action, explanation, confidence,
			model_type, model_version, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := result.Timestamp.UTC()
	expiresAt := createdAt.Add(r.retention)

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.PredictionID, tenantID, result.OrderID,
		result.RiskScore, string(result.RiskLevel),
		string(result.RecommendedAction), string(explanation),
		result.Confidence, result.ModelType, result.ModelVersion,
		createdAt, expiresAt,
	)
	return err
}

// GetPrediction retrieves a prediction by its composite ID with tenant
// isolation.
func (r *SQLRepository) GetPrediction(ctx context.Context, tenantID string, predictionID string) (*domain.PredictionResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := selectColumns + `
		FROM predictions
		WHERE tenant_id = ? AND prediction_id = ?
	`

	result, err := r.scanPrediction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, predictionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListPredictionsByOrder retrieves the audit trail for an order with tenant
// isolation, newest first.
func (r *SQLRepository) ListPredictionsByOrder(ctx context.Context, tenantID string, orderID string) ([]*domain.PredictionResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := selectColumns + `
		FROM predictions
		WHERE tenant_id = ? AND order_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.PredictionResult
	for rows.Next() {
		result, err := r.scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// PurgeExpired removes audit records past their retention deadline across
// all tenants and returns the number removed.
func (r *SQLRepository) PurgeExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM predictions WHERE expires_at <= ?`

	res, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const selectColumns = `
		SELECT prediction_id, tenant_id, order_id, risk_score, risk_level,
			   recommended_action, explanation, confidence,
			   model_type, model_version, created_at
`

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanPrediction(row scanner) (*domain.PredictionResult, error) {
	var result domain.PredictionResult
	var riskLevel, action, explanation string

	err := row.Scan(
		&result.PredictionID, &result.TenantID, &result.OrderID,
		&result.RiskScore, &riskLevel,
		&action, &explanation,
		&result.Confidence, &result.ModelType, &result.ModelVersion,
		&result.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	result.RiskLevel = domain.RiskLevel(riskLevel)
	result.RecommendedAction = domain.Action(action)
	if explanation != "" {
		if err := json.Unmarshal([]byte(explanation), &result.Explanation); err != nil {
			return nil, fmt.Errorf("corrupt explanation for %s: %w", result.PredictionID, err)
		}
	}

	return &result, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
