package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/frigade/frigade-go/internal/models"
)

func sampleRecord() models.ActionRecord {
	return models.ActionRecord{
		UserID:    "guest_abc",
		FlowID:    "flow_onboarding",
		StepID:    "step-one",
		Action:    models.StepActionCompleted,
		CreatedAt: time.Now(),
	}
}

func testGuestRoundTrip(t *testing.T, s Store) {
	t.Helper()
	id, err := s.GetGuestID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty guest id, got %q", id)
	}
	if err := s.SaveGuestID("guest_123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err = s.GetGuestID()
	if err != nil || id != "guest_123" {
		t.Fatalf("guest id not persisted: %q, %v", id, err)
	}
	// Overwrite under the same namespace.
	if err := s.SaveGuestID("guest_456"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, _ = s.GetGuestID()
	if id != "guest_456" {
		t.Fatalf("guest id not replaced: %q", id)
	}
	if err := s.ClearGuestID(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, _ = s.GetGuestID()
	if id != "" {
		t.Fatalf("guest id not cleared: %q", id)
	}
}

func testOutboxLifecycle(t *testing.T, s Store) {
	t.Helper()
	id, err := s.EnqueueAction(sampleRecord())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claimed, err := s.ClaimDueActions(time.Now(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != id {
		t.Fatalf("expected the queued action to be claimed, got %+v", claimed)
	}
	rec, err := claimed[0].Record()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.FlowID != "flow_onboarding" || rec.Action != models.StepActionCompleted {
		t.Errorf("payload not round-tripped: %+v", rec)
	}

	// A claimed action must not be claimable again.
	again, err := s.ClaimDueActions(time.Now(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no claimable actions, got %d", len(again))
	}

	// Failure requeues with a future attempt time.
	if err := s.FailAction(id, "boom", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	notDue, err := s.ClaimDueActions(time.Now(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notDue) != 0 {
		t.Errorf("expected backoff to defer the action, got %d", len(notDue))
	}

	due, err := s.ClaimDueActions(time.Now().Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "boom" {
		t.Fatalf("expected failed action to be due with attempt recorded, got %+v", due)
	}

	if err := s.MarkActionSubmitted(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final, err := s.ClaimDueActions(time.Now().Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(final) != 0 {
		t.Errorf("submitted action should not be claimable, got %d", len(final))
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	testGuestRoundTrip(t, s)
	testOutboxLifecycle(t, s)
}

func TestInMemoryStoreRequeueStale(t *testing.T) {
	s := NewInMemoryStore()
	id, err := s.EnqueueAction(sampleRecord())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.ClaimDueActions(time.Now(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, err := s.RequeueStaleSubmitting(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued action, got %d", n)
	}
	claimed, _ := s.ClaimDueActions(time.Now(), 10)
	if len(claimed) != 1 || claimed[0].ID != id {
		t.Errorf("requeued action not claimable: %+v", claimed)
	}
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "frigade.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	testGuestRoundTrip(t, s)
	testOutboxLifecycle(t, s)
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	s, err := NewPostgresStore(WithDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer s.Close()
	s.db.Exec("DELETE FROM action_outbox")
	s.db.Exec("DELETE FROM guest_identity")
	testGuestRoundTrip(t, s)
	testOutboxLifecycle(t, s)
}

func getenvOrSkip(t *testing.T, key string) string {
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
