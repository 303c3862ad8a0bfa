package signaling

import (
	"context"
	"net/http"
	"strings"

	"github.com/r3labs/sse/v2"
)

// sseStream reads named events from the relay's text/event-stream endpoint.
// Reconnection with backoff is handled by the sse client.
type sseStream struct {
	url    string
	client *http.Client
}

func (s *sseStream) run(ctx context.Context, emit func(event string, data []byte)) error {
	client := sse.NewClient(s.url)
	client.Connection = s.client
	client.OnConnect(func(*sse.Client) {
		log.Debugf("sse connected: %s", redact(s.url))
	})
	client.OnDisconnect(func(*sse.Client) {
		log.Debugf("sse disconnected, retrying")
	})

	return client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		event := string(msg.Event)
		if event == "" {
			event = "message"
		}
		emit(event, msg.Data)
	})
}

// redact drops the query string so tokens never reach the log.
func redact(u string) string {
	base, _, _ := strings.Cut(u, "?")
	return base
}
