// Package bus provides the state-change notification registry for the
// Frigade SDK.
//
// Consumers register interest in all flows, one flow, or one step; every
// state-changing mutation publishes to the matching handlers synchronously,
// in registration order, before the mutating call returns. A handler that
// unsubscribes during a notification pass is not invoked again within that
// pass, and a handler added during a pass is not retroactively invoked.
package bus

import (
	"log/slog"
	"reflect"
	"sync"
)

// ScopeKind identifies the breadth of a subscription scope.
type ScopeKind int

const (
	// ScopeGlobal matches every state change.
	ScopeGlobal ScopeKind = iota
	// ScopeFlow matches changes to one flow, including its steps.
	ScopeFlow
	// ScopeStep matches changes to one step within one flow.
	ScopeStep
)

// Scope describes which state changes a subscription observes.
type Scope struct {
	Kind   ScopeKind
	FlowID string
	StepID string
}

// Global returns the scope matching every state change.
func Global() Scope {
	return Scope{Kind: ScopeGlobal}
}

// ForFlow returns the scope matching one flow and all of its steps.
func ForFlow(flowID string) Scope {
	return Scope{Kind: ScopeFlow, FlowID: flowID}
}

// ForStep returns the scope matching one step within one flow.
func ForStep(flowID, stepID string) Scope {
	return Scope{Kind: ScopeStep, FlowID: flowID, StepID: stepID}
}

// Matches reports whether a subscription with this scope observes an event
// published at the given scope.
func (s Scope) Matches(event Scope) bool {
	switch s.Kind {
	case ScopeGlobal:
		return true
	case ScopeFlow:
		return s.FlowID == event.FlowID
	case ScopeStep:
		return event.Kind == ScopeStep && s.FlowID == event.FlowID && s.StepID == event.StepID
	default:
		return false
	}
}

// Handler is a state-change callback. The payload is the updated entity
// (flow or step handle) supplied by the publisher.
type Handler func(payload interface{})

// Token identifies one subscription for removal.
type Token uint64

type subscription struct {
	token   Token
	scope   Scope
	handler Handler
	fnPtr   uintptr
	removed bool
}

// Bus is the subscription registry. The zero value is not usable; create
// with New.
type Bus struct {
	mu        sync.Mutex
	nextToken Token
	subs      []*subscription
}

// New creates an empty subscription bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for the given scope and returns a removal
// token. Handlers are invoked in registration order.
func (b *Bus) Subscribe(scope Scope, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextToken++
	sub := &subscription{
		token:   b.nextToken,
		scope:   scope,
		handler: handler,
		fnPtr:   reflect.ValueOf(handler).Pointer(),
	}
	b.subs = append(b.subs, sub)
	slog.Debug("bus.Subscribe: handler registered", "token", sub.token, "kind", scope.Kind, "flowID", scope.FlowID, "stepID", scope.StepID)
	return sub.token
}

// Unsubscribe removes the subscription with the given token. Returns false
// when the token is unknown or already removed.
//
// The subscription is both flagged (so an in-flight Publish pass skips it)
// and pruned from the registry, so churning subscriptions does not grow it.
func (b *Bus) Unsubscribe(token Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.token == token {
			sub.removed = true
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// UnsubscribeHandler removes every subscription registered with the given
// handler function. Returns the number of subscriptions removed.
func (b *Bus) UnsubscribeHandler(handler Handler) int {
	ptr := reflect.ValueOf(handler).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	kept := b.subs[:0]
	for _, sub := range b.subs {
		if sub.fnPtr == ptr {
			sub.removed = true
			removed++
			continue
		}
		kept = append(kept, sub)
	}
	b.subs = kept
	return removed
}

// Publish invokes every live handler whose scope matches the event scope,
// synchronously and in registration order. The matching set is snapshotted
// at publish time, so handlers subscribed during the pass are not invoked;
// removal is re-checked before each invocation, so handlers unsubscribed
// during the pass are suppressed.
func (b *Bus) Publish(event Scope, payload interface{}) {
	b.mu.Lock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if !sub.removed && sub.scope.Matches(event) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range matched {
		b.mu.Lock()
		live := !sub.removed
		b.mu.Unlock()
		if !live {
			continue
		}
		sub.handler(payload)
	}
}

// Reset removes every subscription. Used on client teardown.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}
