package progress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/frigade/frigade-go/internal/gateway"
	"github.com/frigade/frigade-go/internal/models"
	"github.com/frigade/frigade-go/internal/store"
)

func newTestTracker(t *testing.T, handler http.HandlerFunc) (*Tracker, *store.InMemoryStore, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw, err := gateway.NewClient("test-key", gateway.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	st := store.NewInMemoryStore()
	return NewTracker(gw, st, nil), st, srv
}

func TestRecordValidates(t *testing.T) {
	tr, _, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {})

	err := tr.Record(models.ActionRecord{FlowID: "flow-a", StepID: "s1", Action: models.StepActionCompleted})
	if !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	err = tr.Record(models.ActionRecord{UserID: "u1", FlowID: "flow-a", StepID: "s1", Action: "BOGUS"})
	if !errors.Is(err, models.ErrInvalidAction) {
		t.Errorf("expected ErrInvalidAction, got %v", err)
	}
	if got := tr.Records("flow-a"); len(got) != 0 {
		t.Errorf("invalid records must not be appended, got %d", len(got))
	}
}

func TestRecordAppendsAndEnqueues(t *testing.T) {
	tr, st, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := models.ActionRecord{
		UserID:    "u1",
		FlowID:    "flow-a",
		StepID:    "s1",
		Action:    models.StepActionCompleted,
		CreatedAt: time.Now(),
	}
	if err := tr.Record(rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got := tr.Records("flow-a")
	if len(got) != 1 || got[0].StepID != "s1" {
		t.Fatalf("expected one appended record for s1, got %+v", got)
	}

	claimed, err := st.ClaimDueActions(time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueActions: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one queued action, got %d", len(claimed))
	}
	queued, err := claimed[0].Record()
	if err != nil {
		t.Fatalf("decode queued action: %v", err)
	}
	if queued.FlowID != "flow-a" || queued.StepID != "s1" {
		t.Errorf("queued action does not match, got %+v", queued)
	}
}

func TestRecordKicksSubmitter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	gw, err := gateway.NewClient("test-key", gateway.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	kicked := make(chan struct{}, 1)
	tr := NewTracker(gw, store.NewInMemoryStore(), func() {
		select {
		case kicked <- struct{}{}:
		default:
		}
	})

	rec := models.ActionRecord{UserID: "u1", FlowID: "flow-a", StepID: "s1", Action: models.StepActionStarted}
	if err := tr.Record(rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	select {
	case <-kicked:
	case <-time.After(time.Second):
		t.Fatal("expected Record to kick the submitter")
	}
}

func TestFetchTargetingQueryAndParse(t *testing.T) {
	var gotQuery string
	tr, _, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/userFlowStates" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[{"flowId":"flow-a","foreignUserId":"u1","shouldTrigger":true}]}`))
	})

	states, err := tr.FetchTargeting(context.Background(), "u1", "org-1")
	if err != nil {
		t.Fatalf("FetchTargeting: %v", err)
	}
	if len(states) != 1 || states[0].FlowID != "flow-a" || !states[0].ShouldTrigger {
		t.Fatalf("unexpected states %+v", states)
	}
	if gotQuery != "foreignUserGroupId=org-1&foreignUserId=u1" {
		t.Errorf("unexpected query %q", gotQuery)
	}
}

func TestFetchTargetingOmitsEmptyGroup(t *testing.T) {
	var gotQuery string
	tr, _, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[]}`))
	})

	if _, err := tr.FetchTargeting(context.Background(), "u1", ""); err != nil {
		t.Fatalf("FetchTargeting: %v", err)
	}
	if gotQuery != "foreignUserId=u1" {
		t.Errorf("unexpected query %q", gotQuery)
	}
}

func TestFetchTargetingRequiresUser(t *testing.T) {
	tr, _, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := tr.FetchTargeting(context.Background(), "", ""); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestReplaceTargeting(t *testing.T) {
	tr, _, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {})

	if tr.TargetingLoaded() {
		t.Fatal("targeting must start unloaded")
	}
	tr.ReplaceTargeting([]models.UserFlowState{
		{FlowID: "flow-a", ForeignUserID: "u1", ShouldTrigger: true},
		{FlowID: "flow-b", ForeignUserID: "u1", ShouldTrigger: false},
	})
	if !tr.TargetingLoaded() {
		t.Fatal("targeting must be loaded after replace")
	}
	s, ok := tr.Targeting("flow-a")
	if !ok || !s.ShouldTrigger {
		t.Errorf("expected flow-a to trigger, got %+v ok=%v", s, ok)
	}
	if _, ok := tr.Targeting("flow-missing"); ok {
		t.Error("expected no state for unknown flow")
	}

	// A later replace drops states absent from the new set.
	tr.ReplaceTargeting([]models.UserFlowState{{FlowID: "flow-b", ForeignUserID: "u1", ShouldTrigger: true}})
	if _, ok := tr.Targeting("flow-a"); ok {
		t.Error("expected flow-a to be dropped by wholesale replace")
	}
}

func TestFetchResponsesAndReplace(t *testing.T) {
	tr, _, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flowResponses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("foreignUserId"); got != "u1" {
			t.Errorf("unexpected foreignUserId %q", got)
		}
		w.Write([]byte(`{"data":[
			{"foreignUserId":"u1","flowSlug":"flow-a","stepId":"s1","actionType":"COMPLETED_STEP","createdAt":"2024-01-02T00:00:00Z"},
			{"foreignUserId":"u1","flowSlug":"flow-b","stepId":"s1","actionType":"STARTED_STEP","createdAt":"2024-01-03T00:00:00Z"},
			{"foreignUserId":"u1","flowSlug":"flow-a","stepId":"s2","actionType":"STARTED_STEP","createdAt":"2024-01-04T00:00:00Z"}
		]}`))
	})

	recs, err := tr.FetchResponses(context.Background(), "u1")
	if err != nil {
		t.Fatalf("FetchResponses: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	tr.ReplaceRecords(recs)

	a := tr.Records("flow-a")
	if len(a) != 2 || a[0].StepID != "s1" || a[1].StepID != "s2" {
		t.Errorf("expected flow-a records in server order, got %+v", a)
	}
	if b := tr.Records("flow-b"); len(b) != 1 {
		t.Errorf("expected 1 record for flow-b, got %d", len(b))
	}
}

func TestFetchTransportErrors(t *testing.T) {
	tr, _, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server broke", http.StatusInternalServerError)
	})

	_, err := tr.FetchResponses(context.Background(), "u1")
	var te *models.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 TransportError, got %v", err)
	}
}

func TestRecordsReturnsCopy(t *testing.T) {
	tr, _, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := models.ActionRecord{UserID: "u1", FlowID: "flow-a", StepID: "s1", Action: models.StepActionStarted}
	if err := tr.Record(rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got := tr.Records("flow-a")
	got[0].StepID = "mutated"
	if fresh := tr.Records("flow-a"); fresh[0].StepID != "s1" {
		t.Error("Records must return a copy, internal state was mutated")
	}
}

func TestReset(t *testing.T) {
	tr, st, _ := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := models.ActionRecord{UserID: "u1", FlowID: "flow-a", StepID: "s1", Action: models.StepActionCompleted}
	if err := tr.Record(rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	tr.ReplaceTargeting([]models.UserFlowState{{FlowID: "flow-a", ForeignUserID: "u1", ShouldTrigger: true}})

	tr.Reset()

	if got := tr.Records("flow-a"); len(got) != 0 {
		t.Errorf("expected no records after reset, got %d", len(got))
	}
	if tr.TargetingLoaded() {
		t.Error("expected targeting unloaded after reset")
	}
	// The durable outbox survives a reset.
	claimed, err := st.ClaimDueActions(time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueActions: %v", err)
	}
	if len(claimed) != 1 {
		t.Errorf("expected the enqueued action to survive reset, got %d", len(claimed))
	}
}
