package models

import "github.com/google/uuid"

// Inbound is the wire contract for a message arriving from any channel.
// The transport has already authenticated the user; role and user id are
// trusted inputs here.
type Inbound struct {
	Origin   Origin     `json:"origin"`
	UserID   string     `json:"user_id"`
	Role     Role       `json:"role"`
	ClinicID string     `json:"clinic_id"`
	ThreadID *uuid.UUID `json:"thread_id,omitempty"`
	Text     string     `json:"text"`
}

// Outbound is the reply handed to the delivery channel.
type Outbound struct {
	Success             bool      `json:"success"`
	Message             string    `json:"message"`
	StructuredData      any       `json:"structured_data,omitempty"`
	RequiresHumanReview bool      `json:"requires_human_review"`
	EscalationReason    string    `json:"escalation_reason,omitempty"`
	RiskLevel           RiskLevel `json:"risk_level"`
	TraceID             string    `json:"trace_id"`
	ThreadID            uuid.UUID `json:"thread_id"`
	// Unconfirmed is set when the turn was answered but could not be durably
	// recorded; a client retry will not silently lose context.
	Unconfirmed bool `json:"unconfirmed,omitempty"`
}
