// Package line integrates the LINE Messaging API: webhook payload parsing,
// signature verification, and the outbound REST client.
package line

import (
	"strings"
	"time"
)

// SignatureHeader carries the base64 HMAC-SHA256 digest of the raw request body.
const SignatureHeader = "X-Line-Signature"

// ChannelType is the provider identifier stored on contacts and channels.
const ChannelType = "line"

// EventType classifies a webhook event.
type EventType string

const (
	EventTypeMessage  EventType = "message"
	EventTypeFollow   EventType = "follow"
	EventTypeUnfollow EventType = "unfollow"
)

// MessageType classifies the payload of a message event.
type MessageType string

const (
	MessageTypeText MessageType = "text"
)

// WebhookPayload is the JSON body of a webhook delivery.
type WebhookPayload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// EventSource identifies who triggered an event.
type EventSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
}

// EventMessage is the message content of a message event.
type EventMessage struct {
	ID   string      `json:"id"`
	Type MessageType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// Event is a single entry in a webhook batch.
type Event struct {
	Type       EventType     `json:"type"`
	Timestamp  int64         `json:"timestamp"`
	ReplyToken string        `json:"replyToken,omitempty"`
	Source     EventSource   `json:"source"`
	Message    *EventMessage `json:"message,omitempty"`
}

// ExternalUserID returns the trimmed provider user id of the event sender.
func (e Event) ExternalUserID() string {
	return strings.TrimSpace(e.Source.UserID)
}

// ReceivedAt converts the millisecond event timestamp to UTC time.
func (e Event) ReceivedAt() time.Time {
	if e.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp).UTC()
}

// IsTextMessage reports whether the event carries a text message.
func (e Event) IsTextMessage() bool {
	return e.Type == EventTypeMessage && e.Message != nil && e.Message.Type == MessageTypeText
}

// Profile is a provider user profile.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

// BotInfo is the bot identity returned by the capability probe.
type BotInfo struct {
	UserID      string `json:"userId"`
	BasicID     string `json:"basicId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

// TextMessage is an outbound text message object.
type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextMessage builds an outbound text message.
func NewTextMessage(text string) TextMessage {
	return TextMessage{Type: string(MessageTypeText), Text: text}
}
