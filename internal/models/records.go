// Package models defines action record and projection state structures for
// the Frigade SDK.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionRecord is an immutable, append-only fact recording that a user
// started, completed or skipped a step at a point in time. Multiple records
// may exist for the same (flow, step); the record with the greatest timestamp
// determines current status.
type ActionRecord struct {
	UserID    string                 `json:"foreignUserId"`
	FlowID    string                 `json:"flowSlug"`
	StepID    string                 `json:"stepId"`
	Action    StepAction             `json:"actionType"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Validate performs validation on an ActionRecord before it is appended.
func (r *ActionRecord) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.FlowID == "" {
		return ErrEmptyFlowID
	}
	if r.StepID == "" {
		return ErrEmptyStepID
	}
	if !IsValidStepAction(r.Action) {
		return fmt.Errorf("%w: %q", ErrInvalidAction, r.Action)
	}
	if r.Data != nil {
		encoded, err := json.Marshal(r.Data)
		if err != nil {
			return fmt.Errorf("action payload is not serializable: %w", err)
		}
		if len(encoded) > MaxActionDataBytes {
			return ErrActionDataTooBig
		}
	}
	return nil
}

// UserFlowState is the server-evaluated targeting state for one (user, flow)
// pair, returned by GET /userFlowStates.
type UserFlowState struct {
	FlowID        string `json:"flowId"`
	ForeignUserID string `json:"foreignUserId"`
	ShouldTrigger bool   `json:"shouldTrigger"`
	FlowState     string `json:"flowState,omitempty"`
}

// ProjectedFlowState is the derived, recomputable view of one flow for the
// current user. It is never persisted; it is always recomputed from the
// FlowDefinition, the current ActionRecord set, custom variables and
// targeting state.
type ProjectedFlowState struct {
	FlowID         string       `json:"flowId"`
	Status         FlowStatus   `json:"status"`
	StepStatuses   []StepAction `json:"stepStatuses"`
	StepsCompleted int          `json:"stepsCompleted"`
	TotalSteps     int          `json:"totalSteps"`
	// NextStepIndex is the smallest step index whose status is not completed.
	// Equal to TotalSteps when every step is completed.
	NextStepIndex int  `json:"nextStepIndex"`
	Visible       bool `json:"visible"`
}

// Completed reports whether every step of the projected flow is completed.
func (p *ProjectedFlowState) Completed() bool {
	return p.Status == FlowStatusCompleted
}

// Equal reports whether two projections describe the same derived state.
func (p *ProjectedFlowState) Equal(o ProjectedFlowState) bool {
	if p.FlowID != o.FlowID || p.Status != o.Status || p.StepsCompleted != o.StepsCompleted ||
		p.TotalSteps != o.TotalSteps || p.NextStepIndex != o.NextStepIndex || p.Visible != o.Visible {
		return false
	}
	if len(p.StepStatuses) != len(o.StepStatuses) {
		return false
	}
	for i := range p.StepStatuses {
		if p.StepStatuses[i] != o.StepStatuses[i] {
			return false
		}
	}
	return true
}

// TransportError describes a network failure or non-2xx response from the
// hosted API. Callers receive it as a value and decide whether to surface it
// or treat it as "no data this round"; it never propagates as a panic.
type TransportError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport error: %s", e.Message)
}

// Envelope is the standard response wrapper used by the hosted API. All list
// endpoints return their payload as { "data": [...] }.
type Envelope struct {
	Data []json.RawMessage `json:"data"`
}

// DecodeEnvelope unwraps a { "data": [...] } response body.
func DecodeEnvelope(body json.RawMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	return env, nil
}

// ParseUserFlowStates decodes the elements of a GET /userFlowStates envelope.
func ParseUserFlowStates(raws []json.RawMessage) ([]UserFlowState, error) {
	states := make([]UserFlowState, 0, len(raws))
	for _, raw := range raws {
		var s UserFlowState
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode user flow state: %w", err)
		}
		states = append(states, s)
	}
	return states, nil
}

// ParseActionRecords decodes the elements of a GET /flowResponses envelope.
func ParseActionRecords(raws []json.RawMessage) ([]ActionRecord, error) {
	records := make([]ActionRecord, 0, len(raws))
	for _, raw := range raws {
		var r ActionRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("failed to decode action record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}
