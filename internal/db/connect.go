package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:clarion.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/clarion?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS ledger_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  student_ref TEXT NOT NULL DEFAULT '',
  teacher_ref TEXT NOT NULL DEFAULT '',
  school_ref TEXT NOT NULL DEFAULT '',
  payload_json TEXT NOT NULL,
  created_by TEXT NOT NULL,
  created_by_role TEXT NOT NULL,
  ip_address TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  content_hash TEXT NOT NULL,
  prev_hash TEXT NOT NULL DEFAULT '',
  seq INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'confirmed',
  sealed_root TEXT,
  ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_student_ts ON ledger_events (student_ref, ts);
CREATE INDEX IF NOT EXISTS idx_ledger_school_type ON ledger_events (school_ref, event_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_student_seq ON ledger_events (student_ref, seq);
CREATE INDEX IF NOT EXISTS idx_ledger_unsealed ON ledger_events (ts) WHERE sealed_root IS NULL;

CREATE TABLE IF NOT EXISTS merkle_batches (
  root_hash TEXT PRIMARY KEY,
  leaf_hashes_json TEXT NOT NULL,
  event_ids_json TEXT NOT NULL,
  computed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS challenges (
  id TEXT PRIMARY KEY,
  student_ref TEXT NOT NULL,
  topic TEXT NOT NULL,
  difficulty TEXT NOT NULL,
  questions_json TEXT NOT NULL,
  responses_json TEXT NOT NULL DEFAULT '{}',
  status TEXT NOT NULL DEFAULT 'generated',
  version INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  submitted_at INTEGER,
  evaluated_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_challenges_student ON challenges (student_ref, created_at);

CREATE TABLE IF NOT EXISTS ability_states (
  student_ref TEXT PRIMARY KEY,
  estimated_ability REAL NOT NULL,
  uncertainty REAL NOT NULL,
  version INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS competency_beliefs (
  student_ref TEXT NOT NULL,
  competency TEXT NOT NULL,
  mastery REAL NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (student_ref, competency)
);

CREATE TABLE IF NOT EXISTS learning_states (
  student_ref TEXT NOT NULL,
  scope TEXT NOT NULL DEFAULT 'global',
  state TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (student_ref, scope)
);

CREATE TABLE IF NOT EXISTS spi_snapshots (
  student_ref TEXT NOT NULL,
  calculated_at INTEGER NOT NULL,
  spi REAL NOT NULL,
  spi_raw REAL NOT NULL,
  grade TEXT NOT NULL,
  learning_state TEXT NOT NULL,
  ability_uncertainty REAL NOT NULL,
  mastery_json TEXT NOT NULL,
  challenges_considered INTEGER NOT NULL,
  source TEXT NOT NULL,
  PRIMARY KEY (student_ref, calculated_at)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS ledger_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  student_ref TEXT NOT NULL DEFAULT '',
  teacher_ref TEXT NOT NULL DEFAULT '',
  school_ref TEXT NOT NULL DEFAULT '',
  payload_json TEXT NOT NULL,
  created_by TEXT NOT NULL,
  created_by_role TEXT NOT NULL,
  ip_address TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  content_hash TEXT NOT NULL,
  prev_hash TEXT NOT NULL DEFAULT '',
  seq BIGINT NOT NULL,
  status TEXT NOT NULL DEFAULT 'confirmed',
  sealed_root TEXT,
  ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_student_ts ON ledger_events (student_ref, ts);
CREATE INDEX IF NOT EXISTS idx_ledger_school_type ON ledger_events (school_ref, event_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_student_seq ON ledger_events (student_ref, seq);
CREATE INDEX IF NOT EXISTS idx_ledger_unsealed ON ledger_events (ts) WHERE sealed_root IS NULL;

CREATE TABLE IF NOT EXISTS merkle_batches (
  root_hash TEXT PRIMARY KEY,
  leaf_hashes_json TEXT NOT NULL,
  event_ids_json TEXT NOT NULL,
  computed_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS challenges (
  id TEXT PRIMARY KEY,
  student_ref TEXT NOT NULL,
  topic TEXT NOT NULL,
  difficulty TEXT NOT NULL,
  questions_json TEXT NOT NULL,
  responses_json TEXT NOT NULL DEFAULT '{}',
  status TEXT NOT NULL DEFAULT 'generated',
  version BIGINT NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL,
  submitted_at BIGINT,
  evaluated_at BIGINT
);
CREATE INDEX IF NOT EXISTS idx_challenges_student ON challenges (student_ref, created_at);

CREATE TABLE IF NOT EXISTS ability_states (
  student_ref TEXT PRIMARY KEY,
  estimated_ability DOUBLE PRECISION NOT NULL,
  uncertainty DOUBLE PRECISION NOT NULL,
  version BIGINT NOT NULL DEFAULT 0,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS competency_beliefs (
  student_ref TEXT NOT NULL,
  competency TEXT NOT NULL,
  mastery DOUBLE PRECISION NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (student_ref, competency)
);

CREATE TABLE IF NOT EXISTS learning_states (
  student_ref TEXT NOT NULL,
  scope TEXT NOT NULL DEFAULT 'global',
  state TEXT NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (student_ref, scope)
);

CREATE TABLE IF NOT EXISTS spi_snapshots (
  student_ref TEXT NOT NULL,
  calculated_at BIGINT NOT NULL,
  spi DOUBLE PRECISION NOT NULL,
  spi_raw DOUBLE PRECISION NOT NULL,
  grade TEXT NOT NULL,
  learning_state TEXT NOT NULL,
  ability_uncertainty DOUBLE PRECISION NOT NULL,
  mastery_json TEXT NOT NULL,
  challenges_considered INTEGER NOT NULL,
  source TEXT NOT NULL,
  PRIMARY KEY (student_ref, calculated_at)
);
`
