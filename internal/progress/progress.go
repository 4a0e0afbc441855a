// Package progress tracks per-user flow progress for the Frigade SDK.
//
// It keeps the append-only action record log and the server-evaluated
// targeting states in memory, applies local mutations optimistically, and
// hands each mutation to the durable outbox for background submission. Remote
// refreshes are coalesced so concurrent callers share one request.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/frigade/frigade-go/internal/gateway"
	"github.com/frigade/frigade-go/internal/models"
	"github.com/frigade/frigade-go/internal/store"
)

// Tracker holds the current user's action records and targeting states.
type Tracker struct {
	gw    *gateway.Client
	local store.Store
	// kick wakes the outbox submitter after an enqueue; may be nil.
	kick func()

	mu sync.RWMutex
	// records maps flow id to that flow's action records in append order.
	records map[string][]models.ActionRecord
	// targeting maps flow id to the server-evaluated state for the current user.
	targeting       map[string]models.UserFlowState
	targetingLoaded bool

	group singleflight.Group
}

// NewTracker creates a tracker backed by the given gateway and local store.
// kick, when non-nil, is invoked after every enqueued action to wake the
// background submitter.
func NewTracker(gw *gateway.Client, local store.Store, kick func()) *Tracker {
	return &Tracker{
		gw:        gw,
		local:     local,
		kick:      kick,
		records:   make(map[string][]models.ActionRecord),
		targeting: make(map[string]models.UserFlowState),
	}
}

// FetchTargeting retrieves the server-evaluated targeting states for the given
// user. Concurrent calls with the same arguments are coalesced into one
// request. The result is returned without being applied; callers decide
// whether it is still current before calling ReplaceTargeting.
func (t *Tracker) FetchTargeting(ctx context.Context, userID, orgID string) ([]models.UserFlowState, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	key := "targeting:" + userID + ":" + orgID
	v, err, shared := t.group.Do(key, func() (interface{}, error) {
		q := url.Values{}
		q.Set("foreignUserId", userID)
		if orgID != "" {
			q.Set("foreignUserGroupId", orgID)
		}
		body, err := t.gw.Get(ctx, "/userFlowStates?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch user flow states: %w", err)
		}
		env, err := models.DecodeEnvelope(body)
		if err != nil {
			return nil, err
		}
		return models.ParseUserFlowStates(env.Data)
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("progress.FetchTargeting: fetched", "userID", userID, "shared", shared)
	return v.([]models.UserFlowState), nil
}

// ReplaceTargeting replaces the in-memory targeting states wholesale and
// marks targeting as loaded.
func (t *Tracker) ReplaceTargeting(states []models.UserFlowState) {
	next := make(map[string]models.UserFlowState, len(states))
	for _, s := range states {
		next[s.FlowID] = s
	}
	t.mu.Lock()
	t.targeting = next
	t.targetingLoaded = true
	t.mu.Unlock()
	slog.Debug("progress.ReplaceTargeting: replaced", "count", len(states))
}

// TargetingLoaded reports whether at least one targeting refresh has been applied.
func (t *Tracker) TargetingLoaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.targetingLoaded
}

// Targeting returns the targeting state for the given flow, if present.
func (t *Tracker) Targeting(flowID string) (models.UserFlowState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.targeting[flowID]
	return s, ok
}

// FetchResponses retrieves the full action record log for the given user.
// Concurrent calls for the same user are coalesced. The result is returned
// without being applied.
func (t *Tracker) FetchResponses(ctx context.Context, userID string) ([]models.ActionRecord, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	key := "responses:" + userID
	v, err, shared := t.group.Do(key, func() (interface{}, error) {
		q := url.Values{}
		q.Set("foreignUserId", userID)
		body, err := t.gw.Get(ctx, "/flowResponses?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch flow responses: %w", err)
		}
		env, err := models.DecodeEnvelope(body)
		if err != nil {
			return nil, err
		}
		return models.ParseActionRecords(env.Data)
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("progress.FetchResponses: fetched", "userID", userID, "shared", shared)
	return v.([]models.ActionRecord), nil
}

// ReplaceRecords replaces the in-memory action record log wholesale, grouping
// records by flow while preserving server order within each flow.
func (t *Tracker) ReplaceRecords(records []models.ActionRecord) {
	next := make(map[string][]models.ActionRecord)
	for _, r := range records {
		next[r.FlowID] = append(next[r.FlowID], r)
	}
	t.mu.Lock()
	t.records = next
	t.mu.Unlock()
	slog.Debug("progress.ReplaceRecords: replaced", "count", len(records))
}

// RecordLocal validates and applies an action record to the in-memory log
// only, with no remote submission. Used in read-only mode.
func (t *Tracker) RecordLocal(rec models.ActionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.records[rec.FlowID] = append(t.records[rec.FlowID], rec)
	t.mu.Unlock()
	return nil
}

// Record validates and applies an action record optimistically, then enqueues
// it for durable background submission. The in-memory append happens before
// the enqueue so projections reflect the mutation immediately; a failed
// enqueue is logged and the optimistic state kept, matching degraded-network
// behavior elsewhere in the SDK.
func (t *Tracker) Record(rec models.ActionRecord) error {
	if err := t.RecordLocal(rec); err != nil {
		return err
	}

	id, err := t.local.EnqueueAction(rec)
	if err != nil {
		slog.Error("progress.Record: enqueue failed, keeping optimistic state",
			"flowID", rec.FlowID, "stepID", rec.StepID, "error", err)
		return nil
	}
	slog.Debug("progress.Record: enqueued", "id", id, "flowID", rec.FlowID, "stepID", rec.StepID, "action", rec.Action)
	if t.kick != nil {
		t.kick()
	}
	return nil
}

// Records returns the action records for the given flow in append order. The
// returned slice is a copy.
func (t *Tracker) Records(flowID string) []models.ActionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	recs := t.records[flowID]
	out := make([]models.ActionRecord, len(recs))
	copy(out, recs)
	return out
}

// Reset discards all in-memory records and targeting states. The durable
// outbox is untouched; already-enqueued actions still belong to the user who
// performed them.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.records = make(map[string][]models.ActionRecord)
	t.targeting = make(map[string]models.UserFlowState)
	t.targetingLoaded = false
	t.mu.Unlock()
	slog.Debug("progress.Reset: cleared in-memory state")
}
