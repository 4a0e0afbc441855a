// Package store provides local persistence backends for the Frigade SDK.
//
// This file implements an SQLite-backed store for guest identity and the
// action outbox.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/frigade/frigade-go/internal/models"
	"github.com/frigade/frigade-go/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetGuestID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT guest_id FROM guest_identity WHERE namespace = ?`, GuestNamespace).Scan(&id)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetGuestID: no guest identifier persisted")
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetGuestID failed", "error", err)
		return "", fmt.Errorf("failed to query guest identifier: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) SaveGuestID(id string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO guest_identity (namespace, guest_id, updated_at) VALUES (?, ?, ?)`,
		GuestNamespace, id, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveGuestID failed", "error", err)
		return fmt.Errorf("failed to save guest identifier: %w", err)
	}
	slog.Debug("SQLiteStore SaveGuestID succeeded")
	return nil
}

func (s *SQLiteStore) ClearGuestID() error {
	_, err := s.db.Exec(`DELETE FROM guest_identity WHERE namespace = ?`, GuestNamespace)
	if err != nil {
		slog.Error("SQLiteStore ClearGuestID failed", "error", err)
		return fmt.Errorf("failed to clear guest identifier: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnqueueAction(rec models.ActionRecord) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal action record: %w", err)
	}
	id := util.GenerateActionID()
	now := time.Now()
	_, err = s.db.Exec(`INSERT INTO action_outbox (id, payload_json, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)`, id, string(payload), ActionStatusQueued, now, now)
	if err != nil {
		slog.Error("SQLiteStore EnqueueAction failed", "error", err, "flowID", rec.FlowID, "stepID", rec.StepID)
		return "", fmt.Errorf("failed to enqueue action for flow %s: %w", rec.FlowID, err)
	}
	slog.Debug("SQLiteStore EnqueueAction succeeded", "id", id, "flowID", rec.FlowID, "stepID", rec.StepID)
	return id, nil
}

func (s *SQLiteStore) ClaimDueActions(now time.Time, limit int) ([]PendingAction, error) {
	rows, err := s.db.Query(`SELECT id, payload_json, status, attempts, next_attempt_at, last_error, created_at, updated_at
		FROM action_outbox
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at LIMIT ?`, ActionStatusQueued, now, limit)
	if err != nil {
		slog.Error("SQLiteStore ClaimDueActions query failed", "error", err)
		return nil, fmt.Errorf("failed to query due actions: %w", err)
	}
	defer rows.Close()

	var actions []PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows)
		if err != nil {
			slog.Error("SQLiteStore ClaimDueActions scan failed", "error", err)
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due actions: %w", err)
	}

	for i := range actions {
		_, err := s.db.Exec(`UPDATE action_outbox SET status = ?, updated_at = ? WHERE id = ?`,
			ActionStatusSubmitting, now, actions[i].ID)
		if err != nil {
			slog.Error("SQLiteStore ClaimDueActions mark failed", "error", err, "id", actions[i].ID)
			return nil, fmt.Errorf("failed to claim action %s: %w", actions[i].ID, err)
		}
		actions[i].Status = ActionStatusSubmitting
	}
	slog.Debug("SQLiteStore ClaimDueActions succeeded", "count", len(actions))
	return actions, nil
}

func (s *SQLiteStore) MarkActionSubmitted(id string) error {
	_, err := s.db.Exec(`UPDATE action_outbox SET status = ?, updated_at = ? WHERE id = ?`,
		ActionStatusSubmitted, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore MarkActionSubmitted failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark action %s submitted: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) FailAction(id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(`UPDATE action_outbox
		SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?`, ActionStatusQueued, errMsg, nextAttemptAt, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore FailAction failed", "error", err, "id", id)
		return fmt.Errorf("failed to record action failure for %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleSubmitting(staleBefore time.Time) (int, error) {
	res, err := s.db.Exec(`UPDATE action_outbox SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`, ActionStatusQueued, time.Now(), ActionStatusSubmitting, staleBefore)
	if err != nil {
		slog.Error("SQLiteStore RequeueStaleSubmitting failed", "error", err)
		return 0, fmt.Errorf("failed to requeue stale actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
