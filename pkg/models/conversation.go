// Package models defines the domain types shared by the agent pipeline.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Origin identifies the channel a message arrived through.
// The set is closed; anything else fails closed at the Origin Router.
type Origin string

const (
	OriginStaffWeb         Origin = "staff_web"
	OriginPatientMessaging Origin = "patient_messaging"
	OriginStaffMessaging   Origin = "staff_messaging"
)

// Role is the caller's role as asserted by the (out-of-scope) auth layer.
type Role string

const (
	RoleAdmin      Role = "Admin"
	RolePodiatrist Role = "Podologo"
	RoleReception  Role = "Recepcion"
)

// KnownRole reports whether r is one of the configured roles.
func KnownRole(r Role) bool {
	switch r {
	case RoleAdmin, RolePodiatrist, RoleReception:
		return true
	}
	return false
}

// ThreadState is the lifecycle state of a conversation thread.
type ThreadState string

const (
	ThreadOpen     ThreadState = "open"
	ThreadIdle     ThreadState = "idle"
	ThreadArchived ThreadState = "archived"
)

// Thread is one ongoing conversation between a user (via one origin) and the
// agent. Threads never span user ids.
type Thread struct {
	ID             uuid.UUID   `json:"id"`
	Origin         Origin      `json:"origin"`
	UserID         string      `json:"user_id"`
	Role           Role        `json:"role"`
	State          ThreadState `json:"state"`
	Pending        *Pending    `json:"pending,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	LastActivityAt time.Time   `json:"last_activity_at"`
}

// Pending carries cross-turn state that must be satisfied before the next
// plan can execute: an unconfirmed mutating action or an unresolved
// disambiguation shortlist. At most one of the two is set.
type Pending struct {
	Confirmation   *PendingAction  `json:"confirmation,omitempty"`
	Disambiguation *PendingChoices `json:"disambiguation,omitempty"`
}

// PendingAction is a validated mutating request waiting for an explicit
// user confirmation in a later turn.
type PendingAction struct {
	TemplateID  string         `json:"template_id"`
	Intent      IntentType     `json:"intent"`
	Params      map[string]any `json:"params"`
	Description string         `json:"description"`
	Risk        RiskLevel      `json:"risk"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// PendingChoices is a ranked shortlist waiting for the user to pick one
// candidate before the deferred plan can be built. Intent, Entities and
// Resolved carry the interrupted turn's context so the follow-up choice can
// resume planning without reclassifying.
type PendingChoices struct {
	Slot       string            `json:"slot"`
	EntityKind string            `json:"entity_kind"`
	Term       string            `json:"term"`
	Candidates []Candidate       `json:"candidates"`
	Intent     Intent            `json:"intent"`
	Entities   EntitySet         `json:"entities,omitempty"`
	Resolved   map[string]string `json:"resolved,omitempty"`
}

// Candidate is one fuzzy-resolution candidate within the caller's scope.
type Candidate struct {
	ID           string    `json:"id"`
	Display      string    `json:"display"`
	Score        float64   `json:"score"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Turn is one request/response exchange within a thread. Turns are ordered
// by Seq and immutable once recorded.
type Turn struct {
	ID             uuid.UUID          `json:"id"`
	ThreadID       uuid.UUID          `json:"thread_id"`
	Seq            int                `json:"seq"`
	TraceID        uuid.UUID          `json:"trace_id"`
	Text           string             `json:"text"`
	Intent         Intent             `json:"intent"`
	Entities       EntitySet          `json:"entities,omitempty"`
	Decision       PermissionDecision `json:"decision"`
	PlanIDs        []string           `json:"plan_ids,omitempty"`
	ResultSummary  string             `json:"result_summary,omitempty"`
	ResponseText   string             `json:"response_text"`
	AwaitingChoice bool               `json:"awaiting_choice,omitempty"`
	ReceivedAt     time.Time          `json:"received_at"`
	RespondedAt    time.Time          `json:"responded_at"`
}
