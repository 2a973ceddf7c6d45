// Package channel manages tenant-scoped connections to the external chat
// provider, including credentials and the auto-reply policy.
package channel

import "time"

// Status describes the connection state of a channel.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Config holds the per-tenant provider credentials and auto-reply policy.
// Stored as jsonb on the channel row; never read from process environment.
type Config struct {
	ChannelSecret    string `json:"channel_secret"`
	AccessToken      string `json:"access_token"`
	AutoReplyEnabled bool   `json:"auto_reply_enabled"`
	AutoReplyMessage string `json:"auto_reply_message"`
}

// Channel is a tenant's configured connection to one external chat provider.
// Config carries the credentials and is excluded from JSON wholesale; the
// auto-reply policy is mirrored into AutoReply so API clients can read it.
type Channel struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Status    Status          `json:"status"`
	Config    Config          `json:"-"`
	AutoReply AutoReplyPolicy `json:"auto_reply"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AutoReplyPolicy is the client-visible part of the channel config.
type AutoReplyPolicy struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// ConnectRequest is the input for connecting (or reconnecting) a channel.
// Credentials are probed against the provider before anything is persisted.
type ConnectRequest struct {
	Name             string `json:"name"`
	ChannelSecret    string `json:"channel_secret" validate:"required"`
	AccessToken      string `json:"access_token" validate:"required"`
	AutoReplyEnabled bool   `json:"auto_reply_enabled"`
	AutoReplyMessage string `json:"auto_reply_message"`
}
