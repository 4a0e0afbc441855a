// Package store provides local persistence backends for the Frigade SDK.
//
// It persists the generated guest identifier across sessions and keeps a
// durable outbox of action records that have been applied optimistically but
// not yet acknowledged by the hosted API. An in-memory store is the default;
// SQLite and PostgreSQL backends are available for hosts that want
// restart-safe submission.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/frigade/frigade-go/internal/models"
	"github.com/frigade/frigade-go/internal/util"
)

// GuestNamespace is the fixed key under which the guest identifier is persisted.
const GuestNamespace = "frigade-guest-id"

// ActionStatus represents the lifecycle state of an outbox action.
type ActionStatus string

const (
	ActionStatusQueued     ActionStatus = "queued"
	ActionStatusSubmitting ActionStatus = "submitting"
	ActionStatusSubmitted  ActionStatus = "submitted"
	ActionStatusFailed     ActionStatus = "failed"
)

// PendingAction is a durable record of an optimistic action awaiting
// submission to the hosted API.
type PendingAction struct {
	ID            string       `json:"id"`
	PayloadJSON   string       `json:"payload_json"`
	Status        ActionStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Record decodes the queued action record payload.
func (p *PendingAction) Record() (models.ActionRecord, error) {
	var rec models.ActionRecord
	if err := json.Unmarshal([]byte(p.PayloadJSON), &rec); err != nil {
		return rec, fmt.Errorf("failed to decode pending action %s: %w", p.ID, err)
	}
	return rec, nil
}

// Store defines the interface for local SDK persistence.
type Store interface {
	// GetGuestID returns the persisted guest identifier, or "" when none exists.
	GetGuestID() (string, error)

	// SaveGuestID persists the guest identifier under the fixed namespace.
	SaveGuestID(id string) error

	// ClearGuestID removes the persisted guest identifier.
	ClearGuestID() error

	// EnqueueAction appends an action record to the durable outbox and
	// returns its outbox id.
	EnqueueAction(rec models.ActionRecord) (string, error)

	// ClaimDueActions marks up to limit queued actions whose next_attempt_at
	// <= now (or is unset) as submitting and returns them.
	ClaimDueActions(now time.Time, limit int) ([]PendingAction, error)

	// MarkActionSubmitted marks an action as acknowledged by the API.
	MarkActionSubmitted(id string) error

	// FailAction records a submission failure and schedules a retry at nextAttemptAt.
	FailAction(id string, errMsg string, nextAttemptAt time.Time) error

	// RequeueStaleSubmitting resets actions stuck in submitting since before
	// staleBefore back to queued (crash recovery).
	RequeueStaleSubmitting(staleBefore time.Time) (int, error)

	// Close releases any underlying resources.
	Close() error
}

// InMemoryStore is the default, non-durable store. Guest identifiers do not
// survive process restarts; hosts wanting cross-session guests use SQLite.
type InMemoryStore struct {
	mu      sync.Mutex
	guestID string
	actions []PendingAction
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) GetGuestID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guestID, nil
}

func (s *InMemoryStore) SaveGuestID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestID = id
	return nil
}

func (s *InMemoryStore) ClearGuestID() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestID = ""
	return nil
}

func (s *InMemoryStore) EnqueueAction(rec models.ActionRecord) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal action record: %w", err)
	}
	now := time.Now()
	action := PendingAction{
		ID:          util.GenerateActionID(),
		PayloadJSON: string(payload),
		Status:      ActionStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return action.ID, nil
}

func (s *InMemoryStore) ClaimDueActions(now time.Time, limit int) ([]PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []PendingAction
	for i := range s.actions {
		if len(claimed) >= limit {
			break
		}
		a := &s.actions[i]
		if a.Status != ActionStatusQueued {
			continue
		}
		if a.NextAttemptAt != nil && a.NextAttemptAt.After(now) {
			continue
		}
		a.Status = ActionStatusSubmitting
		a.UpdatedAt = now
		claimed = append(claimed, *a)
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkActionSubmitted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.actions {
		if s.actions[i].ID == id {
			s.actions[i].Status = ActionStatusSubmitted
			s.actions[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("pending action %s not found", id)
}

func (s *InMemoryStore) FailAction(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.actions {
		if s.actions[i].ID == id {
			s.actions[i].Status = ActionStatusQueued
			s.actions[i].Attempts++
			s.actions[i].LastError = errMsg
			s.actions[i].NextAttemptAt = &nextAttemptAt
			s.actions[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("pending action %s not found", id)
}

func (s *InMemoryStore) RequeueStaleSubmitting(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for i := range s.actions {
		a := &s.actions[i]
		if a.Status == ActionStatusSubmitting && a.UpdatedAt.Before(staleBefore) {
			a.Status = ActionStatusQueued
			a.UpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
