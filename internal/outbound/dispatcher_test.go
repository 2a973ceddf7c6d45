package outbound

import (
	"context"
	"errors"
	"testing"

	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/line"
	"github.com/convodesk/convodesk/internal/message"
)

type fakeTransport struct {
	replyTokens []string
	pushTargets []string
	err         error
}

func (f *fakeTransport) Reply(ctx context.Context, replyToken string, messages ...line.TextMessage) error {
	if f.err != nil {
		return f.err
	}
	f.replyTokens = append(f.replyTokens, replyToken)
	return nil
}

func (f *fakeTransport) Push(ctx context.Context, to string, messages ...line.TextMessage) error {
	if f.err != nil {
		return f.err
	}
	f.pushTargets = append(f.pushTargets, to)
	return nil
}

type fakeResolver struct {
	transport *fakeTransport
	err       error
}

func (f *fakeResolver) TransportFor(ch channel.Channel) (Transport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.transport, nil
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
	return message.Message{ID: "m-1", ConversationID: input.ConversationID, Content: input.Content}, nil
}

func sendRequest() SendRequest {
	return SendRequest{
		Channel:        channel.Channel{ID: "ch-1", TenantID: "t-1"},
		ConversationID: "cv-1",
		TenantID:       "t-1",
		SenderType:     message.SenderAgent,
		SenderID:       "ag-1",
		Content:        "hello",
		PushTo:         "U-1",
	}
}

func TestDispatcherPush(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	recorder := &fakeRecorder{}
	d := NewDispatcher(nil, &fakeResolver{transport: transport}, recorder)

	msg, err := d.Send(context.Background(), sendRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID == "" {
		t.Fatalf("expected recorded message")
	}
	if len(transport.pushTargets) != 1 || transport.pushTargets[0] != "U-1" {
		t.Fatalf("unexpected push targets: %v", transport.pushTargets)
	}
	if len(recorder.inputs) != 1 {
		t.Fatalf("expected one recorded message")
	}
	if recorder.inputs[0].Metadata["delivery"] != "push" {
		t.Fatalf("delivery metadata missing: %+v", recorder.inputs[0].Metadata)
	}
}

func TestDispatcherPrefersReplyToken(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	recorder := &fakeRecorder{}
	d := NewDispatcher(nil, &fakeResolver{transport: transport}, recorder)

	req := sendRequest()
	req.ReplyToken = "rt-1"
	if _, err := d.Send(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transport.replyTokens) != 1 || len(transport.pushTargets) != 0 {
		t.Fatalf("reply token must take precedence over push")
	}
	if recorder.inputs[0].Metadata["delivery"] != "reply" {
		t.Fatalf("delivery metadata should be reply: %+v", recorder.inputs[0].Metadata)
	}
}

func TestDispatcherTransportFailureRecordsNothing(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{err: line.ErrSendFailed}
	recorder := &fakeRecorder{}
	d := NewDispatcher(nil, &fakeResolver{transport: transport}, recorder)

	_, err := d.Send(context.Background(), sendRequest())
	if !errors.Is(err, line.ErrSendFailed) {
		t.Fatalf("want ErrSendFailed, got %v", err)
	}
	if len(recorder.inputs) != 0 {
		t.Fatalf("failed sends must not be recorded")
	}
}

func TestDispatcherEmptyContentRejected(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	d := NewDispatcher(nil, &fakeResolver{transport: &fakeTransport{}}, recorder)

	req := sendRequest()
	req.Content = "   "
	if _, err := d.Send(context.Background(), req); !errors.Is(err, line.ErrSendFailed) {
		t.Fatalf("blank content must be rejected, got %v", err)
	}
	if len(recorder.inputs) != 0 {
		t.Fatalf("nothing must be recorded")
	}
}

func TestDispatcherRecorderFailureSurfaces(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("insert failed")
	d := NewDispatcher(nil, &fakeResolver{transport: &fakeTransport{}}, &fakeRecorder{err: storeErr})

	if _, err := d.Send(context.Background(), sendRequest()); !errors.Is(err, storeErr) {
		t.Fatalf("store failure must surface, got %v", err)
	}
}

func TestDispatcherKeepsCallerMetadata(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	d := NewDispatcher(nil, &fakeResolver{transport: &fakeTransport{}}, recorder)

	req := sendRequest()
	req.Metadata = map[string]any{"automatic": true}
	if _, err := d.Send(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta := recorder.inputs[0].Metadata
	if meta["automatic"] != true || meta["delivery"] != "push" {
		t.Fatalf("metadata merge wrong: %+v", meta)
	}
}
