package relay

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/sajacaros/conference-chat/internal/signaling"
)

// frame is one event queued for a subscriber.
type frame struct {
	event string
	data  string
}

// subscriber is one open event stream. The stream handler drains out until
// done is closed.
type subscriber struct {
	user signaling.User
	out  chan frame
	done chan struct{}
	once sync.Once
}

func newSubscriber(u signaling.User) *subscriber {
	return &subscriber{
		user: u,
		out:  make(chan frame, 64),
		done: make(chan struct{}),
	}
}

// send queues f without blocking. It reports false when the subscriber is
// closed or too slow to keep up.
func (s *subscriber) send(f frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- f:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// hub tracks sessions and open streams, at most one stream per user.
type hub struct {
	mu      sync.Mutex
	tokens  map[string]signaling.User // token -> user
	byEmail map[string]string         // email -> token
	streams map[string]*subscriber    // email -> stream
	metrics *metrics

	// onLeave, when set, runs after a user's current stream is removed.
	onLeave func(email string)
}

func newHub(m *metrics) *hub {
	return &hub{
		tokens:  make(map[string]signaling.User),
		byEmail: make(map[string]string),
		streams: make(map[string]*subscriber),
		metrics: m,
	}
}

// login binds token to u, revoking any earlier token of the same user.
func (h *hub) login(token string, u signaling.User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.byEmail[u.Email]; ok {
		delete(h.tokens, old)
	}
	h.tokens[token] = u
	h.byEmail[u.Email] = token
}

func (h *hub) lookup(token string) (signaling.User, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.tokens[token]
	return u, ok
}

// logout revokes token and closes its user's stream.
func (h *hub) logout(token string) (signaling.User, bool) {
	h.mu.Lock()
	u, ok := h.tokens[token]
	if !ok {
		h.mu.Unlock()
		return signaling.User{}, false
	}
	delete(h.tokens, token)
	delete(h.byEmail, u.Email)
	sub := h.streams[u.Email]
	delete(h.streams, u.Email)
	h.metrics.connected.Set(float64(len(h.streams)))
	h.mu.Unlock()

	if sub != nil {
		sub.close()
	}
	h.left(u.Email)
	h.broadcastUsers()
	return u, true
}

// subscribe registers a new stream for u, closing the one it replaces.
func (h *hub) subscribe(u signaling.User) *subscriber {
	sub := newSubscriber(u)

	h.mu.Lock()
	prev := h.streams[u.Email]
	h.streams[u.Email] = sub
	h.metrics.connected.Set(float64(len(h.streams)))
	h.mu.Unlock()

	if prev != nil {
		log.Infof("replacing stream of %s", u.Email)
		prev.close()
	}
	return sub
}

// unsubscribe removes sub only if it is still the user's current stream,
// so a replaced stream closing late cannot evict its successor. It reports
// whether anything was removed.
func (h *hub) unsubscribe(sub *subscriber) bool {
	sub.close()

	h.mu.Lock()
	if h.streams[sub.user.Email] != sub {
		h.mu.Unlock()
		return false
	}
	delete(h.streams, sub.user.Email)
	h.metrics.connected.Set(float64(len(h.streams)))
	h.mu.Unlock()

	h.left(sub.user.Email)
	return true
}

func (h *hub) left(email string) {
	if h.onLeave != nil {
		h.onLeave(email)
	}
}

func (h *hub) stream(email string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[email]
}

func (h *hub) snapshot() []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*subscriber, 0, len(h.streams))
	for _, s := range h.streams {
		out = append(out, s)
	}
	return out
}

// users returns the connected users sorted by email.
func (h *hub) users() []signaling.User {
	subs := h.snapshot()
	out := make([]signaling.User, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// broadcast sends f to every stream and evicts the ones that cannot take
// it. It reports how many streams were evicted.
func (h *hub) broadcast(f frame) int {
	evicted := 0
	for _, s := range h.snapshot() {
		if s.send(f) {
			continue
		}
		if h.unsubscribe(s) {
			log.Warnf("evicting stalled stream of %s", s.user.Email)
			evicted++
		}
	}
	return evicted
}

// broadcastUsers pushes the current user_list to everyone. Evicting a dead
// stream changes the list, so it repeats until nothing is evicted.
func (h *hub) broadcastUsers() {
	for {
		data, err := json.Marshal(h.users())
		if err != nil {
			log.Errorf("encode user_list: %v", err)
			return
		}
		if h.broadcast(frame{event: signaling.EventUserList, data: string(data)}) == 0 {
			return
		}
	}
}

// heartbeat pings every stream and rebroadcasts the user list when a dead
// stream was removed.
func (h *hub) heartbeat() {
	if h.broadcast(frame{event: signaling.EventPing, data: "keep-alive"}) > 0 {
		h.broadcastUsers()
	}
}

// closeAll ends every stream.
func (h *hub) closeAll() {
	for _, s := range h.snapshot() {
		h.unsubscribe(s)
	}
}
