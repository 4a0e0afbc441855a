// Package store provides the Submitter for flushing the action outbox.
package store

import (
	"context"
	"log/slog"
	"time"
)

// SubmitFunc is the callback that performs the actual remote submission of a
// pending action. It should return an error if the hosted API did not
// acknowledge the record.
type SubmitFunc func(ctx context.Context, action PendingAction) error

// Submitter periodically claims due outbox actions and attempts to submit
// them to the hosted API. Submission failure never rolls back the optimistic
// in-memory record; the action is rescheduled with backoff instead.
type Submitter struct {
	store          Store
	submitFunc     SubmitFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	retryBackoff   time.Duration
	claimLimit     int
	kick           chan struct{}
}

// NewSubmitter creates a new Submitter.
func NewSubmitter(st Store, submitFunc SubmitFunc, pollInterval time.Duration) *Submitter {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Submitter{
		store:          st,
		submitFunc:     submitFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		retryBackoff:   30 * time.Second,
		claimLimit:     10,
		kick:           make(chan struct{}, 1),
	}
}

// RecoverStaleActions requeues actions stuck in submitting state (crash
// recovery). Should be called once at startup.
func (s *Submitter) RecoverStaleActions() error {
	staleBefore := time.Now().Add(-s.staleThreshold)
	n, err := s.store.RequeueStaleSubmitting(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Submitter.RecoverStaleActions: requeued stale actions", "count", n)
	}
	return nil
}

// Kick requests an immediate poll, coalescing with any pending request.
// Called after an optimistic record so submission does not wait a full
// poll interval.
func (s *Submitter) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *Submitter) Run(ctx context.Context) {
	slog.Debug("Submitter.Run: starting action submitter", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Submitter.Run: stopping")
			return
		case <-s.kick:
			s.poll(ctx)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Submitter) poll(ctx context.Context) {
	now := time.Now()
	actions, err := s.store.ClaimDueActions(now, s.claimLimit)
	if err != nil {
		slog.Error("Submitter.poll: claim failed", "error", err)
		return
	}

	for _, action := range actions {
		if err := s.submitFunc(ctx, action); err != nil {
			slog.Error("Submitter.poll: submission failed", "id", action.ID, "attempts", action.Attempts+1, "error", err)
			next := now.Add(s.retryBackoff * time.Duration(action.Attempts+1))
			if ferr := s.store.FailAction(action.ID, err.Error(), next); ferr != nil {
				slog.Error("Submitter.poll: failed to record submission failure", "id", action.ID, "error", ferr)
			}
			continue
		}
		if err := s.store.MarkActionSubmitted(action.ID); err != nil {
			slog.Error("Submitter.poll: failed to mark submitted", "id", action.ID, "error", err)
		}
	}
}
