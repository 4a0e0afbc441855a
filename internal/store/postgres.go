// Package store provides local persistence backends for the Frigade SDK.
//
// This file implements a PostgreSQL-backed store for hosts that embed the SDK
// server-side and want shared, restart-safe submission state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/frigade/frigade-go/internal/models"
	"github.com/frigade/frigade-go/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetGuestID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT guest_id FROM guest_identity WHERE namespace = $1`, GuestNamespace).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetGuestID failed", "error", err)
		return "", fmt.Errorf("failed to query guest identifier: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) SaveGuestID(id string) error {
	_, err := s.db.Exec(`INSERT INTO guest_identity (namespace, guest_id, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (namespace) DO UPDATE SET guest_id = EXCLUDED.guest_id, updated_at = EXCLUDED.updated_at`,
		GuestNamespace, id, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveGuestID failed", "error", err)
		return fmt.Errorf("failed to save guest identifier: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearGuestID() error {
	_, err := s.db.Exec(`DELETE FROM guest_identity WHERE namespace = $1`, GuestNamespace)
	if err != nil {
		slog.Error("PostgresStore ClearGuestID failed", "error", err)
		return fmt.Errorf("failed to clear guest identifier: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnqueueAction(rec models.ActionRecord) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal action record: %w", err)
	}
	id := util.GenerateActionID()
	now := time.Now()
	_, err = s.db.Exec(`INSERT INTO action_outbox (id, payload_json, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5)`, id, string(payload), ActionStatusQueued, now, now)
	if err != nil {
		slog.Error("PostgresStore EnqueueAction failed", "error", err, "flowID", rec.FlowID, "stepID", rec.StepID)
		return "", fmt.Errorf("failed to enqueue action for flow %s: %w", rec.FlowID, err)
	}
	return id, nil
}

func (s *PostgresStore) ClaimDueActions(now time.Time, limit int) ([]PendingAction, error) {
	rows, err := s.db.Query(`UPDATE action_outbox SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM action_outbox
			WHERE status = $3 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
			ORDER BY created_at LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, payload_json, status, attempts, next_attempt_at, last_error, created_at, updated_at`,
		ActionStatusSubmitting, now, ActionStatusQueued, limit)
	if err != nil {
		slog.Error("PostgresStore ClaimDueActions failed", "error", err)
		return nil, fmt.Errorf("failed to claim due actions: %w", err)
	}
	defer rows.Close()

	var actions []PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows)
		if err != nil {
			slog.Error("PostgresStore ClaimDueActions scan failed", "error", err)
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed actions: %w", err)
	}
	slog.Debug("PostgresStore ClaimDueActions succeeded", "count", len(actions))
	return actions, nil
}

func (s *PostgresStore) MarkActionSubmitted(id string) error {
	_, err := s.db.Exec(`UPDATE action_outbox SET status = $1, updated_at = $2 WHERE id = $3`,
		ActionStatusSubmitted, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore MarkActionSubmitted failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark action %s submitted: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) FailAction(id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(`UPDATE action_outbox
		SET status = $1, attempts = attempts + 1, last_error = $2, next_attempt_at = $3, updated_at = $4
		WHERE id = $5`, ActionStatusQueued, errMsg, nextAttemptAt, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore FailAction failed", "error", err, "id", id)
		return fmt.Errorf("failed to record action failure for %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleSubmitting(staleBefore time.Time) (int, error) {
	res, err := s.db.Exec(`UPDATE action_outbox SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4`, ActionStatusQueued, time.Now(), ActionStatusSubmitting, staleBefore)
	if err != nil {
		slog.Error("PostgresStore RequeueStaleSubmitting failed", "error", err)
		return 0, fmt.Errorf("failed to requeue stale actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
