package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates all tables this core owns. History tables are
// append-only: node/edge rows carry version bounds, assignment rows a
// superseded timestamp, and nothing is ever deleted.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS taxonomy_nodes (
	node_id TEXT NOT NULL,
	label TEXT NOT NULL,
	status TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	introduced_in BIGINT NOT NULL,
	removed_in BIGINT,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (node_id, introduced_in)
);

CREATE INDEX IF NOT EXISTS idx_taxonomy_nodes_active ON taxonomy_nodes(node_id) WHERE removed_in IS NULL;

CREATE TABLE IF NOT EXISTS taxonomy_edges (
	id TEXT PRIMARY KEY,
	parent_id TEXT NOT NULL,
	child_id TEXT NOT NULL,
	introduced_in BIGINT NOT NULL,
	removed_in BIGINT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_taxonomy_edges_active ON taxonomy_edges(parent_id, child_id) WHERE removed_in IS NULL;

CREATE TABLE IF NOT EXISTS taxonomy_versions (
	id BIGINT PRIMARY KEY,
	label TEXT NOT NULL,
	parent_id BIGINT,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	method TEXT NOT NULL,
	version BIGINT NOT NULL,
	assigned_at TIMESTAMPTZ NOT NULL,
	superseded_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_active ON assignments(subject_id, node_id) WHERE superseded_at IS NULL;

CREATE TABLE IF NOT EXISTS review_items (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	node_label TEXT,
	confidence DOUBLE PRECISION NOT NULL,
	method TEXT NOT NULL,
	version BIGINT NOT NULL,
	sla_deadline TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	resolution_node_id TEXT,
	resolution_rejected BOOLEAN,
	resolution_reviewer TEXT,
	resolution_decided_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_items_triage ON review_items(status, sla_deadline, id);

CREATE TABLE IF NOT EXISTS feedback_log (
	id TEXT PRIMARY KEY,
	item_id TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	candidate_node_id TEXT NOT NULL,
	candidate_confidence DOUBLE PRECISION NOT NULL,
	candidate_method TEXT NOT NULL,
	decision TEXT NOT NULL,
	final_node_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	chunk_text TEXT NOT NULL,
	token_start INTEGER NOT NULL DEFAULT 0,
	token_end INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);

CREATE TABLE IF NOT EXISTS subjects (
	id TEXT PRIMARY KEY,
	subject_text TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
