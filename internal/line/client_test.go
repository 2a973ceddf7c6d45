package line

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientReply(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "token-1")
	err := client.Reply(context.Background(), "rt-123", NewTextMessage("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v2/bot/message/reply" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotAuth != "Bearer token-1" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotBody["replyToken"] != "rt-123" {
		t.Fatalf("unexpected reply token: %v", gotBody["replyToken"])
	}
}

func TestClientPush(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "token-1")
	if err := client.Push(context.Background(), "U-abc", NewTextMessage("hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v2/bot/message/push" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotBody["to"] != "U-abc" {
		t.Fatalf("unexpected push target: %v", gotBody["to"])
	}
}

func TestClientClassifiesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrInvalidCredentials},
		{name: "forbidden", status: http.StatusForbidden, want: ErrInvalidCredentials},
		{name: "server error", status: http.StatusInternalServerError, want: ErrSendFailed},
		{name: "bad request", status: http.StatusBadRequest, want: ErrSendFailed},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			client := NewClient(nil, srv.URL, "bad-token")
			err := client.Push(context.Background(), "U-abc", NewTextMessage("hi"))
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestClientGetProfile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/profile/U-xyz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(Profile{
			UserID:      "U-xyz",
			DisplayName: "Alice",
			PictureURL:  "https://example.com/a.png",
		})
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "token")
	profile, err := client.GetProfile(context.Background(), "U-xyz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.DisplayName != "Alice" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestClientGetBotInfoInvalidCredentials(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "expired")
	if _, err := client.GetBotInfo(context.Background()); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
}

func TestFactoryCachesPerToken(t *testing.T) {
	t.Parallel()

	factory := NewFactory(nil, "https://example.invalid")

	a1, err := factory.ClientFor("token-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := factory.ClientFor("token-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("same token must reuse the cached client")
	}

	b, err := factory.ClientFor("token-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b == a1 {
		t.Fatalf("different tokens must not share a client")
	}

	if _, err := factory.ClientFor("  "); err == nil {
		t.Fatalf("blank token must be rejected")
	}
}
