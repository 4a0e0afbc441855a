// Package catalog holds the in-memory cache of flow definitions fetched from
// the hosted API.
//
// The cache is replaced wholesale on every refresh and is never mutated in
// place. Concurrent fetches are coalesced into a single network call so that
// many consumers mounting at once do not cause a request storm.
package catalog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/frigade/frigade-go/internal/gateway"
	"github.com/frigade/frigade-go/internal/models"
	"golang.org/x/sync/singleflight"
)

// Catalog caches the set of flow definitions for the current session.
type Catalog struct {
	gw *gateway.Client

	mu     sync.RWMutex
	flows  map[string]models.FlowDefinition
	order  []string
	loaded bool

	group singleflight.Group
}

// NewCatalog creates an empty catalog backed by the given gateway client.
func NewCatalog(gw *gateway.Client) *Catalog {
	return &Catalog{
		gw:    gw,
		flows: make(map[string]models.FlowDefinition),
	}
}

// Fetch retrieves the full flow list from the hosted API. Concurrent calls
// share a single request. The result is returned to the caller, which decides
// whether to apply it (a fetch raced by an identity change is discarded).
func (c *Catalog) Fetch(ctx context.Context) ([]models.FlowDefinition, error) {
	v, err, shared := c.group.Do("flows", func() (interface{}, error) {
		body, err := c.gw.Get(ctx, "/flows")
		if err != nil {
			return nil, err
		}
		env, err := models.DecodeEnvelope(body)
		if err != nil {
			return nil, err
		}
		return models.ParseFlowDefinitions(env.Data), nil
	})
	if err != nil {
		slog.Error("catalog.Fetch: flow list fetch failed", "error", err)
		return nil, err
	}
	if shared {
		slog.Debug("catalog.Fetch: coalesced with in-flight fetch")
	}
	return v.([]models.FlowDefinition), nil
}

// Replace swaps in a freshly fetched flow set, replacing the previous catalog
// wholesale and preserving server order. Exactly one definition per flow id
// is kept; later duplicates are dropped with a diagnostic.
func (c *Catalog) Replace(defs []models.FlowDefinition) {
	flows := make(map[string]models.FlowDefinition, len(defs))
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		if _, exists := flows[def.ID]; exists {
			slog.Warn("catalog.Replace: duplicate flow id in catalog response", "flowID", def.ID)
			continue
		}
		flows[def.ID] = def
		order = append(order, def.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows = flows
	c.order = order
	c.loaded = true
	slog.Debug("catalog.Replace: catalog replaced", "count", len(order))
}

// Refresh fetches and immediately applies the flow list.
func (c *Catalog) Refresh(ctx context.Context) error {
	defs, err := c.Fetch(ctx)
	if err != nil {
		return err
	}
	c.Replace(defs)
	return nil
}

// Get returns the definition for a flow id. Absence is not an error: a
// missing flow is only logged as a diagnostic once the catalog has fully
// loaded, so a lookup racing the initial fetch does not produce a
// false-positive warning.
func (c *Catalog) Get(flowID string) (models.FlowDefinition, bool) {
	c.mu.RLock()
	def, ok := c.flows[flowID]
	loaded := c.loaded
	c.mu.RUnlock()
	if !ok && loaded {
		slog.Warn("catalog.Get: flow not found", "flowID", flowID, "error", models.ErrFlowNotFound)
	}
	return def, ok
}

// All returns every flow definition in server order.
func (c *Catalog) All() []models.FlowDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]models.FlowDefinition, 0, len(c.order))
	for _, id := range c.order {
		defs = append(defs, c.flows[id])
	}
	return defs
}

// Loaded reports whether at least one refresh has completed.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Clear empties the catalog. Used on client teardown.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows = make(map[string]models.FlowDefinition)
	c.order = nil
	c.loaded = false
}
