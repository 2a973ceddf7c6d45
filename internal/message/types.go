// Package message records the immutable, append-only message history.
package message

import "time"

// SenderType classifies who authored a message.
type SenderType string

const (
	SenderContact SenderType = "contact"
	SenderAgent   SenderType = "agent"
	SenderBot     SenderType = "bot"
	SenderSystem  SenderType = "system"
)

// Message is one entry in a conversation. Rows are never mutated or deleted
// after creation; conversation order is creation-time order.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	TenantID       string         `json:"tenant_id"`
	SenderType     SenderType     `json:"sender_type"`
	SenderID       string         `json:"sender_id,omitempty"`
	Content        string         `json:"content"`
	ContentType    string         `json:"content_type"`
	IsInternal     bool           `json:"is_internal"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RecordInput is the input for persisting one message.
type RecordInput struct {
	ConversationID string
	TenantID       string
	SenderType     SenderType
	SenderID       string
	Content        string
	ContentType    string
	IsInternal     bool
	Metadata       map[string]any
}
