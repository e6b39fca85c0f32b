package store

import (
	"database/sql"
	"time"
)

// PostgresStore is the durable multi-instance Store. Commits take a row
// lock on the negotiation so concurrent servers serialize per record.
type PostgresStore struct {
	*SQLStore
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{SQLStore: &SQLStore{
		db:        db,
		schema:    pgSchema,
		forUpdate: " FOR UPDATE",
		clock:     time.Now,
	}}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS negotiations (
	id TEXT PRIMARY KEY,
	record JSONB NOT NULL,
	record_hash TEXT NOT NULL,
	head_hash TEXT NOT NULL,
	turn BIGINT NOT NULL,
	complete BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS transitions (
	negotiation_id TEXT NOT NULL REFERENCES negotiations(id),
	turn BIGINT NOT NULL,
	caller TEXT NOT NULL,
	body JSONB NOT NULL,
	record_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ,
	PRIMARY KEY (negotiation_id, turn)
);

CREATE INDEX IF NOT EXISTS negotiations_open_idx ON negotiations (updated_at) WHERE NOT complete;
`
