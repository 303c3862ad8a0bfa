package signaling

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// Frame is one pushed event on the WebSocket transport.
type Frame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// wsStream reads Frames from the relay's WebSocket endpoint. Unlike the SSE
// transport it does not redial; a dropped socket ends the stream.
type wsStream struct {
	url string
}

func (s *wsStream) run(ctx context.Context, emit func(event string, data []byte)) error {
	conn, err := connect(ctx, s.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadJSON when the channel is closed.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read WS frame: %w", err)
		}
		emit(f.Event, []byte(f.Data))
	}
}

// connect dials the given WebSocket URL and returns the connection.
func connect(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// wsURL maps the relay base URL onto its WebSocket subscribe endpoint, e.g.
//
//	https://relay.example.com -> wss://relay.example.com/ws/subscribe?token=…
func wsURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", server)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/subscribe"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
