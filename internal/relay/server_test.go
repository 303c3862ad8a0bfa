package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sajacaros/conference-chat/internal/signaling"
)

func startRelay(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Options{Heartbeat: time.Hour})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.closeAll()
		ts.Close()
	})
	return s, ts
}

func login(t *testing.T, server, email string) signaling.Identity {
	t.Helper()
	id, err := signaling.Login(context.Background(), server, signaling.LoginRequest{Email: email}, nil)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return id
}

// client is a connected signaling channel that records what it receives.
type client struct {
	ch      *signaling.Channel
	connect chan struct{}
	users   chan []signaling.User
	signals chan signaling.Message
}

func dial(t *testing.T, server string, kind signaling.StreamKind, id signaling.Identity) *client {
	t.Helper()
	c := &client{
		connect: make(chan struct{}, 4),
		users:   make(chan []signaling.User, 32),
		signals: make(chan signaling.Message, 32),
	}
	c.ch = signaling.NewChannel(server, kind, nil, signaling.Handlers{
		OnConnect:  func() { c.connect <- struct{}{} },
		OnUserList: func(u []signaling.User) { c.users <- u },
		OnSignal:   func(m signaling.Message) { c.signals <- m },
	})
	if err := c.ch.Connect(context.Background(), id); err != nil {
		t.Fatalf("connect %s: %v", id.Email, err)
	}
	t.Cleanup(c.ch.Disconnect)

	select {
	case <-c.connect:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s: no connect event", id.Email)
	}
	return c
}

// waitUsers reads user_list events until one has n users.
func (c *client) waitUsers(t *testing.T, n int) []signaling.User {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-c.users:
			if len(u) == n {
				return u
			}
		case <-deadline:
			t.Fatalf("no user_list with %d users", n)
		}
	}
}

func (c *client) waitSignal(t *testing.T) signaling.Message {
	t.Helper()
	select {
	case m := <-c.signals:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no signal received")
	}
	return signaling.Message{}
}

func TestRelaySignal(t *testing.T) {
	for _, kind := range []signaling.StreamKind{signaling.StreamSSE, signaling.StreamWS} {
		t.Run(string(kind), func(t *testing.T) {
			_, ts := startRelay(t)
			aliceID := login(t, ts.URL, "alice@example.com")
			bobID := login(t, ts.URL, "bob@example.com")

			alice := dial(t, ts.URL, kind, aliceID)
			alice.waitUsers(t, 1)
			bob := dial(t, ts.URL, kind, bobID)
			users := alice.waitUsers(t, 2)
			if users[0].Email != "alice@example.com" || users[1].Username != "bob" {
				t.Fatalf("user_list = %+v", users)
			}
			bob.waitUsers(t, 2)

			sender := signaling.NewHTTPSender(ts.URL, bobID, nil)
			err := sender.Send(context.Background(), signaling.Message{
				Sender: "mallory@example.com",
				Target: "alice@example.com",
				Type:   signaling.TypeOffer,
				Data:   `{"type":"offer","sdp":"v=0\r\n"}`,
			})
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			got := alice.waitSignal(t)
			if got.Sender != "bob@example.com" || got.Type != signaling.TypeOffer || got.Data != `{"type":"offer","sdp":"v=0\r\n"}` {
				t.Fatalf("alice got %+v", got)
			}
		})
	}
}

func TestRelayAuth(t *testing.T) {
	_, ts := startRelay(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"login without email", http.MethodPost, "/auth/login", `{"username":"x"}`, http.StatusBadRequest},
		{"login bad json", http.MethodPost, "/auth/login", `{`, http.StatusBadRequest},
		{"signal without token", http.MethodPost, "/sse/signal", `{"target":"a","type":"CHAT","data":"hi"}`, http.StatusUnauthorized},
		{"subscribe without token", http.MethodGet, "/sse/subscribe", "", http.StatusUnauthorized},
		{"subscribe bad token", http.MethodGet, "/sse/subscribe?token=nope", "", http.StatusUnauthorized},
		{"logout without token", http.MethodDelete, "/sse/logout", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRelayRejectsBadSignal(t *testing.T) {
	_, ts := startRelay(t)
	id := login(t, ts.URL, "alice@example.com")

	for _, body := range []string{`{"type":"OFFER","data":"{}"}`, `{"target":"b","type":"WAVE","data":""}`} {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/sse/signal", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+id.Token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestRelayOfflineTargetCounted(t *testing.T) {
	_, ts := startRelay(t)
	id := login(t, ts.URL, "alice@example.com")

	sender := signaling.NewHTTPSender(ts.URL, id, nil)
	if err := sender.Send(context.Background(), signaling.Message{
		Target: "nobody@example.com",
		Type:   signaling.TypeHangup,
		Data:   signaling.EmptyData,
	}); err != nil {
		t.Fatalf("an offline target is dropped, not an error: %v", err)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `relay_signals_dropped_total{reason="offline"} 1`) {
		t.Fatalf("metrics missing dropped counter:\n%s", body)
	}
}

func TestRelayLogout(t *testing.T) {
	_, ts := startRelay(t)
	aliceID := login(t, ts.URL, "alice@example.com")
	bobID := login(t, ts.URL, "bob@example.com")

	dial(t, ts.URL, signaling.StreamSSE, aliceID)
	bob := dial(t, ts.URL, signaling.StreamSSE, bobID)
	bob.waitUsers(t, 2)

	if err := signaling.Logout(context.Background(), ts.URL, aliceID, nil); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if users := bob.waitUsers(t, 1); users[0].Email != "bob@example.com" {
		t.Fatalf("user_list after logout = %+v", users)
	}

	sender := signaling.NewHTTPSender(ts.URL, aliceID, nil)
	err := sender.Send(context.Background(), signaling.Message{Target: "bob@example.com", Type: signaling.TypeChat, Data: "hi"})
	if err == nil {
		t.Fatal("a logged-out token must be refused")
	}
}

func TestRelayCORSPreflight(t *testing.T) {
	_, ts := startRelay(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/sse/signal", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatal("preflight has no Access-Control-Allow-Origin")
	}
}

func TestRelayRecordsCalls(t *testing.T) {
	s, ts := startRelay(t)
	aliceID := login(t, ts.URL, alice)
	bobID := login(t, ts.URL, bob)
	dial(t, ts.URL, signaling.StreamSSE, aliceID)
	dial(t, ts.URL, signaling.StreamSSE, bobID).waitUsers(t, 2)

	ctx := context.Background()
	send := func(id signaling.Identity, to string, typ signaling.Type) {
		t.Helper()
		err := signaling.NewHTTPSender(ts.URL, id, nil).Send(ctx, signaling.Message{Target: to, Type: typ, Data: "{}"})
		if err != nil {
			t.Fatalf("%s from %s: %v", typ, id.Email, err)
		}
	}
	send(aliceID, bob, signaling.TypeOffer)
	send(bobID, alice, signaling.TypeAnswer)
	if r := latest(t, s.calls.store, alice, bob); r.Status != StatusConnected {
		t.Fatalf("after ANSWER status = %s", r.Status)
	}

	// Leaving the relay ends the call.
	if err := signaling.Logout(ctx, ts.URL, bobID, nil); err != nil {
		t.Fatal(err)
	}
	if r := latest(t, s.calls.store, alice, bob); r.Status != StatusEnded {
		t.Fatalf("after logout status = %s", r.Status)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`relay_calls_total{status="trying"} 1`,
		`relay_calls_total{status="connected"} 1`,
		`relay_calls_total{status="ended"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}
