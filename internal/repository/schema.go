package repository

// Schema definitions for the Kestrel audit store.
// Compatible with both SQLite and PostgreSQL.

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    prediction_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    recommended_action TEXT NOT NULL,
    explanation TEXT NOT NULL,
    confidence REAL NOT NULL,
    model_type TEXT NOT NULL,
    model_version TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    PRIMARY KEY (prediction_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_predictions_tenant ON predictions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_predictions_order ON predictions(tenant_id, order_id, created_at);
CREATE INDEX IF NOT EXISTS idx_predictions_expiry ON predictions(expires_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaPredictions,
	}
}
