// Package conversation owns the conversation lifecycle: the single active
// thread per contact and channel, and the claim state machine that enforces
// exclusive agent ownership.
package conversation

import "time"

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClaimed  Status = "claimed"
	StatusResolved Status = "resolved"
	StatusArchived Status = "archived"
)

// Priority orders conversations for triage.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Conversation is a thread between one contact and the business over one
// channel. AssignedTo is set by an explicit claim; an automatic reopen after
// resolution keeps the previous assignee rather than stripping ownership.
type Conversation struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ContactID     string    `json:"contact_id"`
	ChannelID     string    `json:"channel_id"`
	Status        Status    `json:"status"`
	Priority      Priority  `json:"priority"`
	RiskLevel     string    `json:"risk_level"`
	AssignedTo    string    `json:"assigned_to,omitempty"`
	ClaimedAt     time.Time `json:"claimed_at,omitzero"`
	ResolvedAt    time.Time `json:"resolved_at,omitzero"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsActive reports whether the conversation still receives inbound traffic
// without reopening.
func (c Conversation) IsActive() bool {
	return c.Status == StatusOpen || c.Status == StatusClaimed
}
