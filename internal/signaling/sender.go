package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSender posts signals to the relay. It is stateless apart from the
// identity it authenticates as.
type HTTPSender struct {
	server string
	id     Identity
	client *http.Client
}

// NewHTTPSender creates a sender for the relay at server. client may be nil.
func NewHTTPSender(server string, id Identity, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSender{
		server: strings.TrimRight(server, "/"),
		id:     id,
		client: client,
	}
}

// Identity returns the identity signals are sent as.
func (s *HTTPSender) Identity() Identity { return s.id }

// Send posts msg to the relay. Sender is filled in from the identity.
func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	if s.id.Email == "" || s.id.Token == "" {
		return ErrNoCredentials
	}
	msg.Sender = s.id.Email

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.server+"/sse/signal", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.id.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s signal: %w", msg.Type, err)
	}
	io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("post %s signal: status %s", msg.Type, resp.Status)
	}
	return nil
}
