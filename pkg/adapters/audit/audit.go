// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-frostsigner.
//
// go-frostsigner is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package audit keeps a trail of the decisions that change what sites may do:
// remembered policies being added, widened or revoked, and prompts being
// answered or closed from the approval UI.
package audit

import (
	"context"
	"time"
)

// EventType categorizes an audit event.
type EventType string

const (
	// EventPolicyAdd is recorded when a policy appears in the table.
	EventPolicyAdd EventType = "policy.add"
	// EventPolicyUpdate is recorded when a policy's conditions change.
	EventPolicyUpdate EventType = "policy.update"
	// EventPolicyRevoke is recorded when a policy leaves the table.
	EventPolicyRevoke EventType = "policy.revoke"

	// EventPromptAnswer is recorded when the UI answers a prompt.
	EventPromptAnswer EventType = "prompt.answer"
	// EventPromptClose is recorded when the UI dismisses a prompt.
	EventPromptClose EventType = "prompt.close"

	// EventSettingChange is recorded when a user setting is written.
	EventSettingChange EventType = "setting.change"
)

// EventOutcome is the decision an event carries, if any.
type EventOutcome string

const (
	OutcomeAllow EventOutcome = "allow"
	OutcomeDeny  EventOutcome = "deny"
	OutcomeNone  EventOutcome = ""
)

// Outcome maps an accept flag onto an outcome.
func Outcome(accept bool) EventOutcome {
	if accept {
		return OutcomeAllow
	}
	return OutcomeDeny
}

// Event is one audit record.
type Event struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Type      EventType    `json:"type"`
	Outcome   EventOutcome `json:"outcome,omitempty"`

	// Subject is the authenticated UI identity, when the change came through
	// the API.
	Subject string `json:"subject,omitempty"`

	Host      string `json:"host,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Kinds restricts a policy event to these event kinds. Empty means all.
	Kinds []int `json:"kinds,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Adapter stores and queries audit events.
type Adapter interface {
	// LogEvent records event, filling ID, Timestamp and RequestID when unset.
	LogEvent(ctx context.Context, event *Event) error

	// GetEvents returns matching events, newest first.
	GetEvents(ctx context.Context, query *EventQuery) ([]*Event, error)
}

// EventQuery filters GetEvents. Zero fields match everything.
type EventQuery struct {
	Types []EventType
	Host  string
	Since time.Time

	// Limit caps the result count. Zero returns all.
	Limit int
}
