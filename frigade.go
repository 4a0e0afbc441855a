// Package frigade is the Go client SDK for the Frigade onboarding platform.
//
// A Client fetches flow definitions and per-user progress from the hosted
// API, records step start/completion events optimistically with durable
// background submission, and exposes derived flow and step status through
// Flow and Step handles. State-change notifications fan out synchronously to
// subscribed handlers before the mutating call returns.
//
// Each Client is an explicit, lifecycle-scoped context object: create one
// with New, tear it down with Close. There is no package-level singleton.
package frigade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frigade/frigade-go/internal/bus"
	"github.com/frigade/frigade-go/internal/catalog"
	"github.com/frigade/frigade-go/internal/gateway"
	"github.com/frigade/frigade-go/internal/models"
	"github.com/frigade/frigade-go/internal/progress"
	"github.com/frigade/frigade-go/internal/projection"
	"github.com/frigade/frigade-go/internal/store"
	"github.com/frigade/frigade-go/internal/util"
)

// Handler is a state-change callback. The payload is the updated entity: a
// *Step for step-level changes, a *Flow for flow-level changes (catalog or
// progress refresh, reset).
type Handler = bus.Handler

// Token identifies one state-change subscription for removal.
type Token = bus.Token

// Client is the SDK entry point. All state-reading and mutating operations
// hang off it or off the Flow and Step handles it returns.
type Client struct {
	gw        *gateway.Client
	local     store.Store
	catalog   *catalog.Catalog
	tracker   *progress.Tracker
	engine    *projection.Engine
	bus       *bus.Bus
	submitter *store.Submitter
	cancel    context.CancelFunc

	// epoch is the identity/session counter. Every identity change bumps it;
	// refresh results fetched under an older epoch are discarded on arrival.
	epoch atomic.Uint64

	readOnly bool

	mu          sync.RWMutex
	userID      string
	orgID       string
	vars        map[string]interface{}
	initialized bool
	closed      bool
}

// New creates a Client and performs the initial user registration and
// catalog/targeting/progress sync. Network failures during the initial sync
// degrade to empty state and are logged; the client is still usable and
// recovers on the next refresh. Configuration errors (empty API key, broken
// local store) fail construction.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	var gwOpts []gateway.Option
	if cfg.BaseURL != "" {
		gwOpts = append(gwOpts, gateway.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		gwOpts = append(gwOpts, gateway.WithTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		gwOpts = append(gwOpts, gateway.WithHTTPClient(cfg.HTTPClient))
	}
	gw, err := gateway.NewClient(apiKey, gwOpts...)
	if err != nil {
		return nil, err
	}

	local := cfg.Store
	if local == nil {
		local = store.NewInMemoryStore()
	}

	c := &Client{
		gw:       gw,
		local:    local,
		catalog:  catalog.NewCatalog(gw),
		bus:      bus.New(),
		vars:     make(map[string]interface{}),
		readOnly: cfg.ReadOnly,
	}
	c.submitter = store.NewSubmitter(local, c.submitAction, cfg.FlushInterval)
	c.tracker = progress.NewTracker(gw, local, c.submitter.Kick)
	c.engine = &projection.Engine{
		FlowLookup:      c.catalog.Get,
		RecordLookup:    c.tracker.Records,
		TargetingLookup: c.tracker.Targeting,
		TargetingLoaded: c.tracker.TargetingLoaded,
	}

	userID := cfg.UserID
	if userID == "" {
		userID, err = c.loadOrCreateGuestID()
		if err != nil {
			return nil, err
		}
	}
	c.userID = userID
	c.orgID = cfg.OrganizationID

	if err := c.submitter.RecoverStaleActions(); err != nil {
		slog.Warn("frigade.New: stale action recovery failed", "error", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.submitter.Run(runCtx)

	if err := c.registerUser(ctx, userID, nil); err != nil {
		slog.Warn("frigade.New: user registration failed, continuing", "userID", userID, "error", err)
	}
	if cfg.OrganizationID != "" {
		if err := c.registerGroup(ctx, userID, cfg.OrganizationID, nil); err != nil {
			slog.Warn("frigade.New: group registration failed, continuing", "orgID", cfg.OrganizationID, "error", err)
		}
	}
	c.refreshAll(ctx)

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	slog.Info("frigade.New: client initialized", "userID", userID, "flows", len(c.catalog.All()))
	return c, nil
}

// Close tears the client down: stops the background submitter, drops every
// subscription and releases the local store.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.bus.Reset()
	c.catalog.Clear()
	c.tracker.Reset()
	return c.local.Close()
}

// ready returns models.ErrUninitialized until New has completed and after Close.
func (c *Client) ready() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized || c.closed {
		return models.ErrUninitialized
	}
	return nil
}

// UserID returns the current effective user identifier.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// OrganizationID returns the current group identifier, or "".
func (c *Client) OrganizationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orgID
}

// IsGuest reports whether the current identity is a generated guest identifier.
func (c *Client) IsGuest() bool {
	return util.IsGuestID(c.UserID())
}

// IsReadOnly reports whether the client was created in read-only mode.
func (c *Client) IsReadOnly() bool {
	return c.readOnly
}

// Identify switches the effective identity to the given user, registering it
// with the hosted API and fully refreshing catalog, targeting and progress
// before returning. Refresh results still in flight for the previous identity
// are discarded when they arrive.
func (c *Client) Identify(ctx context.Context, userID string, properties map[string]interface{}) error {
	if err := c.ready(); err != nil {
		return err
	}
	if userID == "" {
		return models.ErrEmptyUserID
	}
	if err := c.registerUser(ctx, userID, properties); err != nil {
		return err
	}

	c.epoch.Add(1)
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	c.tracker.Reset()

	c.refreshAll(ctx)
	slog.Info("Client.Identify: identity switched", "userID", userID)
	return nil
}

// Group associates the current user with an organization, registering the
// membership with the hosted API and refreshing targeting state before
// returning.
func (c *Client) Group(ctx context.Context, orgID string, properties map[string]interface{}) error {
	if err := c.ready(); err != nil {
		return err
	}
	if orgID == "" {
		return models.ErrEmptyGroupID
	}
	userID := c.UserID()
	if err := c.registerGroup(ctx, userID, orgID, properties); err != nil {
		return err
	}

	c.epoch.Add(1)
	c.mu.Lock()
	c.orgID = orgID
	c.mu.Unlock()

	c.refreshAll(ctx)
	slog.Info("Client.Group: group set", "orgID", orgID)
	return nil
}

// Track sends a named analytics event for the current user. Tracking does not
// change local flow state.
func (c *Client) Track(ctx context.Context, event string, properties map[string]interface{}) error {
	if err := c.ready(); err != nil {
		return err
	}
	if event == "" {
		return models.ErrEmptyEventName
	}
	if c.readOnly {
		slog.Debug("Client.Track: read-only mode, event not sent", "event", event)
		return nil
	}
	body := map[string]interface{}{
		"event":         event,
		"foreignUserId": c.UserID(),
	}
	if len(properties) > 0 {
		body["properties"] = properties
	}
	if _, err := c.gw.Post(ctx, "/track", body); err != nil {
		return fmt.Errorf("failed to track event %q: %w", event, err)
	}
	return nil
}

// Reset clears the persisted identity, rotates to a fresh guest identifier
// and clears in-memory progress. It does not call the remote API; the
// previous identity's server-side records are untouched.
func (c *Client) Reset() error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.local.ClearGuestID(); err != nil {
		return fmt.Errorf("failed to clear guest identifier: %w", err)
	}
	guest := util.GenerateGuestID()
	if err := c.local.SaveGuestID(guest); err != nil {
		return fmt.Errorf("failed to persist guest identifier: %w", err)
	}

	prev := c.snapshotProjections()
	c.epoch.Add(1)
	c.mu.Lock()
	c.userID = guest
	c.orgID = ""
	c.mu.Unlock()
	c.tracker.Reset()

	c.publishChanges(prev)
	slog.Info("Client.Reset: identity rotated", "userID", guest)
	return nil
}

// Refresh re-fetches catalog, targeting and progress for the current
// identity. Failures keep the previous data.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.refreshAll(ctx)
	return nil
}

// GetFlow returns a handle onto the flow with the given id, or
// models.ErrFlowNotFound when the catalog does not contain it.
func (c *Client) GetFlow(flowID string) (*Flow, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if _, ok := c.catalog.Get(flowID); !ok {
		return nil, models.ErrFlowNotFound
	}
	return &Flow{c: c, id: flowID}, nil
}

// GetFlows returns handles onto every flow in the catalog, in server order.
func (c *Client) GetFlows() ([]*Flow, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	defs := c.catalog.All()
	flows := make([]*Flow, 0, len(defs))
	for _, def := range defs {
		flows = append(flows, &Flow{c: c, id: def.ID})
	}
	return flows, nil
}

// SetCustomVariable sets a variable available to ${name} placeholders in flow
// and step display fields. Resolution happens at read time; setting a
// variable re-notifies subscribers since rendered text may have changed.
func (c *Client) SetCustomVariable(name string, value interface{}) error {
	if err := c.ready(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("variable name cannot be empty")
	}
	if s, ok := value.(string); ok && len(s) > models.MaxVariableValueLength {
		return models.ErrVariableTooLong
	}
	c.mu.Lock()
	c.vars[name] = value
	c.mu.Unlock()
	c.publishChanges(nil)
	return nil
}

// OnStateChange registers a handler for every state change across all flows.
func (c *Client) OnStateChange(handler Handler) Token {
	return c.bus.Subscribe(bus.Global(), handler)
}

// RemoveStateChangeHandler removes every subscription registered with the
// given handler function, at any scope. Returns the number removed.
func (c *Client) RemoveStateChangeHandler(handler Handler) int {
	return c.bus.UnsubscribeHandler(handler)
}

// Unsubscribe removes the subscription identified by the token.
func (c *Client) Unsubscribe(token Token) bool {
	return c.bus.Unsubscribe(token)
}

// customVars returns a snapshot of the current custom variable map.
func (c *Client) customVars() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

func (c *Client) loadOrCreateGuestID() (string, error) {
	id, err := c.local.GetGuestID()
	if err != nil {
		return "", fmt.Errorf("failed to load guest identifier: %w", err)
	}
	if id == "" {
		id = util.GenerateGuestID()
		if err := c.local.SaveGuestID(id); err != nil {
			return "", fmt.Errorf("failed to persist guest identifier: %w", err)
		}
		slog.Debug("Client.loadOrCreateGuestID: generated guest identifier", "userID", id)
	}
	return id, nil
}

func (c *Client) registerUser(ctx context.Context, userID string, properties map[string]interface{}) error {
	if c.readOnly {
		slog.Debug("Client.registerUser: read-only mode, registration skipped", "userID", userID)
		return nil
	}
	body := map[string]interface{}{"foreignUserId": userID}
	if len(properties) > 0 {
		body["properties"] = properties
	}
	if _, err := c.gw.Post(ctx, "/users", body); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

func (c *Client) registerGroup(ctx context.Context, userID, orgID string, properties map[string]interface{}) error {
	if c.readOnly {
		slog.Debug("Client.registerGroup: read-only mode, registration skipped", "orgID", orgID)
		return nil
	}
	body := map[string]interface{}{
		"foreignUserId":      userID,
		"foreignUserGroupId": orgID,
	}
	if len(properties) > 0 {
		body["properties"] = properties
	}
	if _, err := c.gw.Post(ctx, "/userGroups", body); err != nil {
		return fmt.Errorf("failed to register group: %w", err)
	}
	return nil
}

// refreshAll fetches catalog, targeting and progress for the current
// identity and applies each result only if no identity change happened while
// the fetch was in flight. Failures keep the previous data (stale state over
// a broken widget). Subscribers are notified of every flow and step whose
// projection the refresh moved.
func (c *Client) refreshAll(ctx context.Context) {
	epoch := c.epoch.Load()
	c.mu.RLock()
	userID, orgID := c.userID, c.orgID
	c.mu.RUnlock()
	prev := c.snapshotProjections()

	if defs, err := c.catalog.Fetch(ctx); err != nil {
		slog.Warn("Client.refreshAll: flow fetch failed, keeping previous catalog", "error", err)
	} else if c.epoch.Load() == epoch {
		c.catalog.Replace(defs)
	} else {
		slog.Debug("Client.refreshAll: discarding stale flow fetch", "epoch", epoch)
	}

	if states, err := c.tracker.FetchTargeting(ctx, userID, orgID); err != nil {
		slog.Warn("Client.refreshAll: targeting fetch failed, keeping previous state", "error", err)
	} else if c.epoch.Load() == epoch {
		c.tracker.ReplaceTargeting(states)
	} else {
		slog.Debug("Client.refreshAll: discarding stale targeting fetch", "epoch", epoch)
	}

	if records, err := c.tracker.FetchResponses(ctx, userID); err != nil {
		slog.Warn("Client.refreshAll: progress fetch failed, keeping previous records", "error", err)
	} else if c.epoch.Load() == epoch {
		c.tracker.ReplaceRecords(records)
	} else {
		slog.Debug("Client.refreshAll: discarding stale progress fetch", "epoch", epoch)
	}

	c.publishChanges(prev)
}

// snapshotProjections captures the projection of every catalog flow, keyed by
// flow id. Taken before a wholesale mutation so publishChanges can diff.
func (c *Client) snapshotProjections() map[string]models.ProjectedFlowState {
	prev := make(map[string]models.ProjectedFlowState)
	for _, def := range c.catalog.All() {
		if proj, err := c.engine.Project(def.ID); err == nil {
			prev[def.ID] = proj
		}
	}
	return prev
}

// publishChanges notifies subscribers after a wholesale mutation (refresh,
// reset). Every flow whose projection differs from the pre-mutation snapshot
// gets a flow-level event, and each step whose status moved gets a step-level
// event, so step-scoped handlers hear transitions that arrive through a
// refresh rather than a local recording. Unchanged flows publish nothing. A
// nil snapshot publishes everything, for mutations (variable updates) that
// change rendered output without moving state.
func (c *Client) publishChanges(prev map[string]models.ProjectedFlowState) {
	for _, def := range c.catalog.All() {
		cur, err := c.engine.Project(def.ID)
		if err != nil {
			continue
		}
		before, known := prev[def.ID]
		if known && before.Equal(cur) {
			continue
		}
		flow := &Flow{c: c, id: def.ID}
		c.bus.Publish(bus.ForFlow(def.ID), flow)
		for i, step := range def.Steps {
			if known && i < len(before.StepStatuses) && i < len(cur.StepStatuses) &&
				before.StepStatuses[i] == cur.StepStatuses[i] {
				continue
			}
			c.bus.Publish(bus.ForStep(def.ID, step.ID), &Step{flow: flow, id: step.ID})
		}
	}
}

// recordStep validates, applies and enqueues one step action, then notifies
// subscribers. The in-memory append is synchronous; the remote submission is
// handled by the background submitter.
func (c *Client) recordStep(flowID, stepID string, action models.StepAction, data map[string]interface{}) error {
	if err := c.ready(); err != nil {
		return err
	}
	def, ok := c.catalog.Get(flowID)
	if !ok {
		return models.ErrFlowNotFound
	}
	step := def.Step(stepID)
	if step == nil {
		return models.ErrStepNotFound
	}

	record := c.tracker.Record
	if c.readOnly {
		record = c.tracker.RecordLocal
	}
	rec := models.ActionRecord{
		UserID:    c.UserID(),
		FlowID:    flowID,
		StepID:    stepID,
		Action:    action,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := record(rec); err != nil {
		return err
	}

	// Starting a step flagged autoMarkCompleted records its completion in the
	// same call; the later append wins the projection.
	if action == models.StepActionStarted && step.AutoMarkCompleted {
		done := rec
		done.Action = models.StepActionCompleted
		done.CreatedAt = time.Now()
		if err := record(done); err != nil {
			return err
		}
	}

	flow := &Flow{c: c, id: flowID}
	c.bus.Publish(bus.ForStep(flowID, stepID), &Step{flow: flow, id: stepID})
	return nil
}

// submitAction flushes one outbox entry to the hosted API.
func (c *Client) submitAction(ctx context.Context, action store.PendingAction) error {
	rec, err := action.Record()
	if err != nil {
		return err
	}
	if _, err := c.gw.Post(ctx, "/flowResponses", rec); err != nil {
		return fmt.Errorf("failed to submit action for %s/%s: %w", rec.FlowID, rec.StepID, err)
	}
	return nil
}
