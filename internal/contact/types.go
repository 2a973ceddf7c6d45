// Package contact stores the durable identities behind inbound chat traffic.
package contact

import "time"

// Contact is one external chat identity belonging to one tenant. Contacts
// are created on first inbound traffic or follow and never hard-deleted.
type Contact struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	ChannelType string         `json:"channel_type"`
	ExternalID  string         `json:"external_id"`
	DisplayName string         `json:"display_name"`
	AvatarURL   string         `json:"avatar_url"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// FallbackDisplayName names contacts whose profile could not be fetched.
const FallbackDisplayName = "LINE User"
