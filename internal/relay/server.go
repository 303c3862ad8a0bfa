// Package relay is the signaling relay: it issues bearer tokens, keeps one
// event stream per user over SSE or WebSocket, and forwards posted signals
// to their target's stream. Signal types drive a call record per call
// attempt; payloads are never inspected.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/sajacaros/conference-chat/internal/signaling"
	"github.com/sajacaros/conference-chat/internal/util"
)

var log = util.Scope("relay")

// Options configures a Server.
type Options struct {
	// Heartbeat is the ping interval. Zero means 10s.
	Heartbeat time.Duration
	// AllowedOrigins for CORS. Empty allows every origin.
	AllowedOrigins []string
	// Calls keeps call records. Nil keeps them in memory.
	Calls CallStore
}

// Server is the relay. Create it with New, mount Handler, and run
// heartbeats with Run (ListenAndServe does both).
type Server struct {
	opts    Options
	metrics *metrics
	hub     *hub
	calls   *callLog

	upgrader websocket.Upgrader
}

// New returns a Server.
func New(opts Options) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 10 * time.Second
	}
	m := newMetrics()
	s := &Server{
		opts:    opts,
		metrics: m,
		hub:     newHub(m),
		calls:   newCallLog(opts.Calls, m),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.hub.onLeave = s.calls.disconnect
	return s
}

// Handler returns the relay's HTTP routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /sse/subscribe", s.handleSSE)
	mux.HandleFunc("GET /ws/subscribe", s.handleWS)
	mux.HandleFunc("POST /sse/signal", s.handleSignal)
	mux.HandleFunc("DELETE /sse/logout", s.handleLogout)
	mux.Handle("GET /metrics", s.metrics.handler())

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(mux)
}

// Run pings every stream at the heartbeat interval until ctx is done, then
// closes all streams.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.hub.heartbeat()
		case <-ctx.Done():
			s.hub.closeAll()
			return
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled. ready, when
// non-nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if ready != nil {
		ready(ln.Addr())
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.Run(runCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Infof("relay listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Streams are long-lived; end them before waiting on shutdown.
	cancel()
	s.hub.closeAll()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req signaling.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		req.Username, _, _ = strings.Cut(req.Email, "@")
	}

	token := uuid.NewString()
	s.hub.login(token, signaling.User{Email: req.Email, Username: req.Username})
	log.Infof("login %s", req.Email)
	writeJSON(w, signaling.LoginResponse{Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	u, ok := s.hub.logout(bearer(r))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	log.Infof("logout %s", u.Email)
	w.WriteHeader(http.StatusNoContent)
}

// authorize resolves the caller from the Bearer header or, for stream
// endpoints, the token query parameter.
func (s *Server) authorize(r *http.Request) (signaling.User, bool) {
	token := bearer(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return signaling.User{}, false
	}
	return s.hub.lookup(token)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// ---------------------------------------------------------------------------
// Streams
// ---------------------------------------------------------------------------

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := s.open(u)
	defer s.close(sub)

	for {
		select {
		case f := <-sub.out:
			if err := sse.Encode(w, sse.Event{Event: f.event, Data: f.data}); err != nil {
				log.Debugf("sse write to %s: %v", u.Email, err)
				return
			}
			flusher.Flush()
		case <-sub.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.open(u)
	defer s.close(sub)

	// The client never writes; a read error means it went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.close()
				return
			}
		}
	}()

	for {
		select {
		case f := <-sub.out:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(signaling.Frame{Event: f.event, Data: f.data}); err != nil {
				log.Debugf("ws write to %s: %v", u.Email, err)
				return
			}
		case <-sub.done:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"))
			return
		case <-r.Context().Done():
			return
		}
	}
}

// open registers a stream, greets it and tells everyone about the new user.
func (s *Server) open(u signaling.User) *subscriber {
	sub := s.hub.subscribe(u)
	sub.send(frame{event: signaling.EventConnect, data: "Connected as " + u.Email})
	s.hub.broadcastUsers()
	log.Infof("stream opened for %s", u.Email)
	return sub
}

func (s *Server) close(sub *subscriber) {
	if s.hub.unsubscribe(sub) {
		log.Infof("stream closed for %s", sub.user.Email)
		s.hub.broadcastUsers()
	}
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	u, ok := s.hub.lookup(bearer(r))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var msg signaling.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&msg); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if msg.Target == "" || !msg.Type.Valid() {
		http.Error(w, "target and a known type are required", http.StatusBadRequest)
		return
	}
	// The sender is whoever holds the token, not what the body claims.
	msg.Sender = u.Email
	s.calls.observe(msg)

	target := s.hub.stream(msg.Target)
	if target == nil {
		s.metrics.dropped.WithLabelValues("offline").Inc()
		log.Warnf("%s %s -> %s: target not connected", msg.Type, msg.Sender, msg.Target)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !target.send(frame{event: signaling.EventSignal, data: string(data)}) {
		s.metrics.dropped.WithLabelValues("stalled").Inc()
		log.Warnf("%s %s -> %s: target stream stalled", msg.Type, msg.Sender, msg.Target)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.metrics.relayed.WithLabelValues(string(msg.Type)).Inc()
	log.Debugf("%s %s -> %s", msg.Type, msg.Sender, msg.Target)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("write response: %v", err)
	}
}
