package frigade

import (
	"net/http"
	"time"

	"github.com/frigade/frigade-go/internal/store"
)

// Opts holds configuration options for the SDK client.
type Opts struct {
	// UserID is the externally supplied user identifier. When empty, a
	// persisted guest identifier is loaded or generated.
	UserID string
	// OrganizationID is the group identifier used for targeting evaluation.
	OrganizationID string
	// Store is the local persistence backend for the guest identifier and the
	// action outbox. Defaults to an in-memory store.
	Store store.Store
	// BaseURL overrides the hosted API endpoint (primarily for tests).
	BaseURL string
	// Timeout bounds a single API request round-trip.
	Timeout time.Duration
	// HTTPClient supplies a custom http.Client (proxies, instrumentation).
	HTTPClient *http.Client
	// FlushInterval is how often the background submitter polls the action
	// outbox. Defaults to 5 seconds; every recorded action also triggers an
	// immediate flush.
	FlushInterval time.Duration
	// ReadOnly makes the client apply mutations locally without ever writing
	// to the hosted API. Useful for previews and server-side rendering.
	ReadOnly bool
}

// Option defines a configuration option for the SDK client.
type Option func(*Opts)

// WithUserID supplies an already-known user identifier, bypassing the guest
// identifier for the initial session.
func WithUserID(userID string) Option {
	return func(o *Opts) {
		o.UserID = userID
	}
}

// WithOrganizationID supplies the group identifier for targeting evaluation.
func WithOrganizationID(orgID string) Option {
	return func(o *Opts) {
		o.OrganizationID = orgID
	}
}

// WithStore supplies a durable local store (SQLite or Postgres backed) so the
// guest identifier and pending actions survive restarts.
func WithStore(st store.Store) Option {
	return func(o *Opts) {
		o.Store = st
	}
}

// WithBaseURL overrides the hosted API endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHTTPClient supplies a custom http.Client for API requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithFlushInterval overrides the outbox polling interval.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.FlushInterval = d
	}
}

// WithReadOnly puts the client in read-only mode: flows, targeting and
// progress are fetched normally, but no registration, tracking or step
// actions are sent to the hosted API.
func WithReadOnly() Option {
	return func(o *Opts) {
		o.ReadOnly = true
	}
}
