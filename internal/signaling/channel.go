package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sajacaros/conference-chat/internal/util"
)

var log = util.Scope("signaling")

var (
	// ErrNoCredentials is returned by Connect when the identity is incomplete.
	ErrNoCredentials = errors.New("identity has no email or token")
	// ErrNotConnected is returned when an operation needs an open channel.
	ErrNotConnected = errors.New("signaling channel not connected")
)

// StreamKind selects the server-push transport.
type StreamKind string

const (
	StreamSSE StreamKind = "sse"
	StreamWS  StreamKind = "ws"
)

// Handlers are the callbacks a Channel delivers events to. Nil handlers are
// skipped. They run on the stream's goroutine, one event at a time, in
// arrival order. Handlers must not call Connect or Disconnect inline.
type Handlers struct {
	OnConnect    func()
	OnUserList   func(users []User)
	OnSignal     func(msg Message)
	OnDisconnect func(err error)
}

// stream is one live server-push connection. run blocks until ctx is
// cancelled or the stream fails for good.
type stream interface {
	run(ctx context.Context, emit func(event string, data []byte)) error
}

// Channel maintains at most one server-push stream for an identity and
// classifies its events. It holds no call state.
type Channel struct {
	server   string
	kind     StreamKind
	client   *http.Client
	handlers Handlers

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChannel creates a Channel for the relay at server (e.g.
// "http://localhost:8080"). client may be nil.
func NewChannel(server string, kind StreamKind, client *http.Client, h Handlers) *Channel {
	if kind == "" {
		kind = StreamSSE
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Channel{
		server:   strings.TrimRight(server, "/"),
		kind:     kind,
		client:   client,
		handlers: h,
	}
}

// Connect opens the stream for id, closing any prior stream first. It
// returns once the stream goroutine is running; transient failures after
// that are retried by the transport itself.
func (c *Channel) Connect(ctx context.Context, id Identity) error {
	if id.Email == "" || id.Token == "" {
		return ErrNoCredentials
	}

	s, err := c.newStream(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		err := s.run(sctx, c.dispatch)
		if sctx.Err() != nil {
			err = nil
		}
		if err != nil {
			log.Warnf("%s stream closed: %v", c.kind, err)
		} else {
			log.Debugf("%s stream closed", c.kind)
		}
		if c.handlers.OnDisconnect != nil {
			c.handlers.OnDisconnect(err)
		}
	}()

	log.Infof("%s stream opened for %s", c.kind, id.Email)
	return nil
}

// Disconnect closes the stream. Safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Connected reports whether a stream goroutine is live.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Channel) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

// dispatch classifies one pushed event.
func (c *Channel) dispatch(event string, data []byte) {
	switch event {
	case EventConnect:
		log.Debugf("connect: %s", data)
		if c.handlers.OnConnect != nil {
			c.handlers.OnConnect()
		}

	case EventUserList:
		var users []User
		if err := json.Unmarshal(data, &users); err != nil {
			log.Warnf("dropping user_list: %v", err)
			return
		}
		if c.handlers.OnUserList != nil {
			c.handlers.OnUserList(users)
		}

	case EventSignal:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			util.Stats.AddDropped()
			log.Warnf("dropping signal (%d bytes): %v", len(data), err)
			return
		}
		if !msg.Type.Valid() {
			util.Stats.AddDropped()
			log.Warnf("dropping signal from %s: unknown type %q", msg.Sender, msg.Type)
			return
		}
		util.Stats.AddIn()
		if c.handlers.OnSignal != nil {
			c.handlers.OnSignal(msg)
		}

	case EventPing:
		// keep-alive only

	default:
		log.Debugf("ignoring event %q", event)
	}
}

func (c *Channel) newStream(id Identity) (stream, error) {
	switch c.kind {
	case StreamSSE:
		return &sseStream{
			url:    c.server + "/sse/subscribe?token=" + url.QueryEscape(id.Token),
			client: c.client,
		}, nil
	case StreamWS:
		u, err := wsURL(c.server, id.Token)
		if err != nil {
			return nil, err
		}
		return &wsStream{url: u}, nil
	default:
		return nil, fmt.Errorf("unknown stream kind %q", c.kind)
	}
}
