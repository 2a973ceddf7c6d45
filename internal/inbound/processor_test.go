package inbound

import (
	"context"
	"errors"
	"testing"

	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/contact"
	"github.com/convodesk/convodesk/internal/conversation"
	"github.com/convodesk/convodesk/internal/line"
	"github.com/convodesk/convodesk/internal/message"
)

type fakeContacts struct {
	getOrCreateCalls int
	followCalls      int
	followProfile    *line.Profile
	blockedCalls     int
	blockedErr       error
}

func (f *fakeContacts) GetOrCreate(ctx context.Context, tenantID, externalID string) (contact.Contact, error) {
	f.getOrCreateCalls++
	return contact.Contact{ID: "ct-1", TenantID: tenantID, ExternalID: externalID}, nil
}

func (f *fakeContacts) ApplyFollow(ctx context.Context, tenantID, externalID string, profile *line.Profile) (contact.Contact, error) {
	f.followCalls++
	f.followProfile = profile
	return contact.Contact{ID: "ct-1", TenantID: tenantID, ExternalID: externalID}, nil
}

func (f *fakeContacts) MarkBlocked(ctx context.Context, tenantID, externalID string) (contact.Contact, error) {
	f.blockedCalls++
	if f.blockedErr != nil {
		return contact.Contact{}, f.blockedErr
	}
	return contact.Contact{ID: "ct-1", TenantID: tenantID, ExternalID: externalID}, nil
}

type fakeConversations struct {
	calls int
}

func (f *fakeConversations) GetOrCreateOpen(ctx context.Context, tenantID, contactID, channelID string) (conversation.Conversation, error) {
	f.calls++
	return conversation.Conversation{ID: "cv-1", TenantID: tenantID, ContactID: contactID, ChannelID: channelID, Status: conversation.StatusOpen}, nil
}

type fakeRecorder struct {
	inputs []message.RecordInput
	err    error
}

func (f *fakeRecorder) Record(ctx context.Context, input message.RecordInput) (message.Message, error) {
	if f.err != nil {
		return message.Message{}, f.err
	}
	f.inputs = append(f.inputs, input)
	return message.Message{ID: "m-1", ConversationID: input.ConversationID}, nil
}

type fakeAutoReplier struct {
	calls int
}

func (f *fakeAutoReplier) Maybe(ctx context.Context, ch channel.Channel, conv conversation.Conversation, event line.Event) error {
	f.calls++
	return nil
}

type fakeProfiles struct {
	profile *line.Profile
	err     error
}

func (f *fakeProfiles) FetchProfile(ctx context.Context, ch channel.Channel, externalID string) (*line.Profile, error) {
	return f.profile, f.err
}

func testChannel() channel.Channel {
	return channel.Channel{
		ID:       "ch-1",
		TenantID: "t-1",
		Type:     line.ChannelType,
		Status:   channel.StatusConnected,
	}
}

func textEvent(text string) line.Event {
	return line.Event{
		Type:       line.EventTypeMessage,
		Timestamp:  1700000000000,
		ReplyToken: "rt-1",
		Source:     line.EventSource{Type: "user", UserID: "U-1"},
		Message:    &line.EventMessage{ID: "wm-1", Type: line.MessageTypeText, Text: text},
	}
}

func newTestProcessor(contacts *fakeContacts, convs *fakeConversations, rec *fakeRecorder, auto *fakeAutoReplier, profiles *fakeProfiles) *Processor {
	return NewProcessor(nil, contacts, convs, rec, auto, profiles)
}

func TestProcessTextMessage(t *testing.T) {
	t.Parallel()

	contacts := &fakeContacts{}
	convs := &fakeConversations{}
	rec := &fakeRecorder{}
	auto := &fakeAutoReplier{}

	p := newTestProcessor(contacts, convs, rec, auto, &fakeProfiles{})
	p.ProcessPayload(context.Background(), testChannel(), line.WebhookPayload{
		Events: []line.Event{textEvent("  hello there  ")},
	})

	if contacts.getOrCreateCalls != 1 || convs.calls != 1 {
		t.Fatalf("contact/conversation resolution not performed: %d/%d", contacts.getOrCreateCalls, convs.calls)
	}
	if len(rec.inputs) != 1 {
		t.Fatalf("expected one recorded message, got %d", len(rec.inputs))
	}
	got := rec.inputs[0]
	if got.SenderType != message.SenderContact {
		t.Fatalf("unexpected sender type: %s", got.SenderType)
	}
	if got.Content != "hello there" {
		t.Fatalf("content not trimmed: %q", got.Content)
	}
	if got.Metadata["provider_message_id"] != "wm-1" {
		t.Fatalf("provider message id missing: %+v", got.Metadata)
	}
	if got.Metadata["received_at"] != "2023-11-14T22:13:20Z" {
		t.Fatalf("event timestamp not recorded: %+v", got.Metadata)
	}
	if auto.calls != 1 {
		t.Fatalf("auto-reply should run once, got %d", auto.calls)
	}
}

func TestProcessMessageWithoutTimestamp(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := newTestProcessor(&fakeContacts{}, &fakeConversations{}, rec, &fakeAutoReplier{}, &fakeProfiles{})

	event := textEvent("hi")
	event.Timestamp = 0
	p.ProcessPayload(context.Background(), testChannel(), line.WebhookPayload{Events: []line.Event{event}})

	if len(rec.inputs) != 1 {
		t.Fatalf("expected one recorded message, got %d", len(rec.inputs))
	}
	if _, ok := rec.inputs[0].Metadata["received_at"]; ok {
		t.Fatalf("zero timestamp must not be recorded: %+v", rec.inputs[0].Metadata)
	}
}

func TestProcessNonTextMessage(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	auto := &fakeAutoReplier{}
	p := newTestProcessor(&fakeContacts{}, &fakeConversations{}, rec, auto, &fakeProfiles{})

	event := textEvent("")
	event.Message.Type = line.MessageType("sticker")
	p.ProcessPayload(context.Background(), testChannel(), line.WebhookPayload{Events: []line.Event{event}})

	if len(rec.inputs) != 1 {
		t.Fatalf("expected one recorded message, got %d", len(rec.inputs))
	}
	if rec.inputs[0].Content != "[sticker]" {
		t.Fatalf("unexpected placeholder content: %q", rec.inputs[0].Content)
	}
	if auto.calls != 0 {
		t.Fatalf("auto-reply must not run for non-text messages")
	}
}

func TestProcessRecordFailureSkipsAutoReply(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{err: errors.New("insert failed")}
	auto := &fakeAutoReplier{}
	p := newTestProcessor(&fakeContacts{}, &fakeConversations{}, rec, auto, &fakeProfiles{})

	p.ProcessPayload(context.Background(), testChannel(), line.WebhookPayload{Events: []line.Event{textEvent("hi")}})

	if auto.calls != 0 {
		t.Fatalf("auto-reply must not run when recording failed")
	}
}

func TestProcessBatchContinuesPastFailure(t *testing.T) {
	t.Parallel()

	contacts := &fakeContacts{}
	rec := &fakeRecorder{}
	p := newTestProcessor(contacts, &fakeConversations{}, rec, &fakeAutoReplier{}, &fakeProfiles{})

	bad := textEvent("broken")
	bad.Source.UserID = ""
	p.ProcessPayload(context.Background(), testChannel(), line.WebhookPayload{
		Events: []line.Event{bad, textEvent("still works")},
	})

	if len(rec.inputs) != 1 {
		t.Fatalf("second event should still process, got %d records", len(rec.inputs))
	}
	if rec.inputs[0].Content != "still works" {
		t.Fatalf("unexpected recorded content: %q", rec.inputs[0].Content)
	}
}

func TestProcessFollowRefreshesProfile(t *testing.T) {
	t.Parallel()

	contacts := &fakeContacts{}
	profiles := &fakeProfiles{profile: &line.Profile{UserID: "U-1", DisplayName: "Alice"}}
	p := newTestProcessor(contacts, &fakeConversations{}, &fakeRecorder{}, &fakeAutoReplier{}, profiles)

	p.ProcessPayload(context.Background(), testChannel(), line.WebhookPayload{
		Events: []line.Event{{Type: line.EventTypeFollow, Source: line.EventSource{Type: "user", UserID: "U-1"}}},
	})

	if contacts.followCalls != 1 {
		t.Fatalf("follow not applied")
	}
	if contacts.followProfile == nil || contacts.followProfile.DisplayName != "Alice" {
		t.Fatalf("profile not passed through: %+v", contacts.followProfile)
	}
}

func TestProcessFollowToleratesProfileFailure(t *testing.T) {
	t.Parallel()

	contacts := &fakeContacts{}
	profiles := &fakeProfiles{err: errors.New("profile unavailable")}
	p := newTestProcessor(contacts, &fakeConversations{}, &fakeRecorder{}, &fakeAutoReplier{}, profiles)

	p.ProcessPayload(context.Background(), testChannel(), line.WebhookPayload{
		Events: []line.Event{{Type: line.EventTypeFollow, Source: line.EventSource{Type: "user", UserID: "U-1"}}},
	})

	if contacts.followCalls != 1 {
		t.Fatalf("follow must still be applied without a profile")
	}
	if contacts.followProfile != nil {
		t.Fatalf("profile should be nil after fetch failure")
	}
}

func TestProcessUnfollow(t *testing.T) {
	t.Parallel()

	contacts := &fakeContacts{}
	p := newTestProcessor(contacts, &fakeConversations{}, &fakeRecorder{}, &fakeAutoReplier{}, &fakeProfiles{})

	p.ProcessPayload(context.Background(), testChannel(), line.WebhookPayload{
		Events: []line.Event{{Type: line.EventTypeUnfollow, Source: line.EventSource{Type: "user", UserID: "U-1"}}},
	})

	if contacts.blockedCalls != 1 {
		t.Fatalf("unfollow should mark the contact blocked")
	}
}

func TestProcessUnknownEventTypeIgnored(t *testing.T) {
	t.Parallel()

	contacts := &fakeContacts{}
	rec := &fakeRecorder{}
	p := newTestProcessor(contacts, &fakeConversations{}, rec, &fakeAutoReplier{}, &fakeProfiles{})

	p.ProcessPayload(context.Background(), testChannel(), line.WebhookPayload{
		Events: []line.Event{{Type: line.EventType("memberJoined"), Source: line.EventSource{UserID: "U-1"}}},
	})

	if contacts.getOrCreateCalls != 0 || len(rec.inputs) != 0 {
		t.Fatalf("unknown events must have no side effects")
	}
}
