package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/sajacaros/conference-chat/internal/media"
	"github.com/sajacaros/conference-chat/internal/signaling"
	"github.com/sajacaros/conference-chat/internal/transport"
	"github.com/sajacaros/conference-chat/internal/util"
)

// ErrMediaUnavailable is wrapped by StartCall/AcceptCall when local media
// cannot be acquired.
var ErrMediaUnavailable = media.ErrUnavailable

// Manager owns at most one call. All state lives behind mu; peers, media and
// signals are touched with mu held only where ordering demands it
// (description + candidate flush, signal posting).
type Manager struct {
	opts Options

	mu       sync.Mutex
	session  *Session // established call
	inflight *build   // call under construction
	state    State
	// last is the done channel of the most recent attempt, which may have
	// been cancelled but not yet returned.
	last <-chan struct{}
}

// NewManager validates opts and returns an idle Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Peers == nil || opts.Media == nil || opts.Signals == nil {
		return nil, errors.New("call manager needs peers, media and signals")
	}
	return &Manager{opts: opts}, nil
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// StartCall places a call to target: it replaces any existing call, creates
// a peer, attaches local audio then video, and posts the offer.
func (m *Manager) StartCall(ctx context.Context, target string) error {
	if target == "" {
		return errors.New("call target is empty")
	}

	b := m.install(RoleInitiator, target)
	defer close(b.done)

	if err := m.await(ctx, b); err != nil {
		return m.fail(b, err)
	}

	peer, err := m.prepare(ctx, b)
	if err != nil {
		return m.fail(b, err)
	}

	offer, err := peer.CreateOffer()
	if err != nil {
		return m.fail(b, fmt.Errorf("create offer: %w", err))
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		return m.fail(b, fmt.Errorf("set local description: %w", err))
	}
	data, err := signaling.EncodeDescription(offer)
	if err != nil {
		return m.fail(b, err)
	}

	if err := m.commit(b, signaling.TypeOffer, data); err != nil {
		return err
	}
	log.Infof("calling %s", target)
	return nil
}

// AcceptCall answers offer from sender. buffered are candidates that arrived
// with the offer before it was accepted; they are applied ahead of any that
// arrive during setup.
func (m *Manager) AcceptCall(ctx context.Context, sender, offer string, buffered ...string) error {
	if sender == "" {
		return errors.New("offer sender is empty")
	}
	desc, err := signaling.DecodeDescription(offer, webrtc.SDPTypeOffer)
	if err != nil {
		return fmt.Errorf("offer from %s: %w", sender, err)
	}
	early := decodeCandidates(sender, buffered)

	b := m.install(RoleReceiver, sender)
	defer close(b.done)

	if err := m.await(ctx, b); err != nil {
		return m.fail(b, err)
	}

	peer, err := m.prepare(ctx, b)
	if err != nil {
		return m.fail(b, err)
	}

	if err := m.applyRemote(b, desc, early); err != nil {
		return m.fail(b, err)
	}

	answer, err := peer.CreateAnswer()
	if err != nil {
		return m.fail(b, fmt.Errorf("create answer: %w", err))
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		return m.fail(b, fmt.Errorf("set local description: %w", err))
	}
	data, err := signaling.EncodeDescription(answer)
	if err != nil {
		return m.fail(b, err)
	}

	if err := m.commit(b, signaling.TypeAnswer, data); err != nil {
		return err
	}
	log.Infof("accepted call from %s", sender)
	return nil
}

// install makes a new attempt the in-flight build, displacing any previous
// attempt. The displaced attempt's peer and media are released here; its
// goroutine notices on its next step and returns ErrSuperseded.
func (m *Manager) install(role Role, target string) *build {
	var sink media.Sink
	if m.opts.Sink != nil {
		var err error
		if sink, err = m.opts.Sink(target); err != nil {
			log.Warnf("no remote media sink for %s: %v", target, err)
			sink = nil
		}
	}

	b := &build{
		session: newSession(role, target, sink),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.inflight
	var displaced resources
	if prev != nil {
		prev.err = ErrSuperseded
		displaced = prev.session.detach()
	}
	m.inflight = b
	b.prev = m.last
	m.last = b.done
	state, changed := m.transitionLocked()
	m.mu.Unlock()

	if prev != nil {
		log.Infof("call attempt to %s superseded by %s", displaced.target, target)
		displaced.release()
	}
	m.notifyState(state, changed)
	return b
}

// await waits for the previous attempt to return, whether it was displaced
// or cancelled, then replaces any established call.
func (m *Manager) await(ctx context.Context, b *build) error {
	if b.prev != nil {
		select {
		case <-b.prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	if b.err != nil {
		m.mu.Unlock()
		return b.err
	}
	old := m.session
	var res resources
	if old != nil {
		res = old.detach()
		m.session = nil
	}
	state, changed := m.transitionLocked()
	m.mu.Unlock()

	if old != nil {
		log.Infof("replacing call with %s", res.target)
		res.release()
		util.Stats.AddCallEnded()
	}
	m.notifyState(state, changed)
	return nil
}

// prepare creates the peer and attaches local media, audio first.
func (m *Manager) prepare(ctx context.Context, b *build) (Peer, error) {
	s := b.session

	peer, err := m.opts.Peers(transport.Handlers{
		OnCandidate: func(c webrtc.ICECandidateInit) { m.onLocalCandidate(s, c) },
		OnTrack:     func(t *webrtc.TrackRemote) { m.onRemoteTrack(s, t) },
		OnState:     m.onPeerState,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	m.mu.Lock()
	if b.err != nil {
		m.mu.Unlock()
		peer.Close()
		return nil, b.err
	}
	s.peer = peer
	m.mu.Unlock()

	camera, err := m.opts.Media.UserMedia(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire local media: %w", err)
	}

	m.mu.Lock()
	if b.err != nil {
		m.mu.Unlock()
		camera.Stop()
		return nil, b.err
	}
	s.camera = camera
	s.local = camera
	m.mu.Unlock()

	for _, t := range camera.Tracks() {
		if err := peer.AddTrack(t.Local()); err != nil {
			return nil, err
		}
	}

	if fn := m.opts.Observer.OnLocalStream; fn != nil {
		fn(camera)
	}
	return peer, nil
}

// applyRemote sets the offer on a receiver's build and flushes candidates.
func (m *Manager) applyRemote(b *build, desc webrtc.SessionDescription, early []webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	return m.setRemoteLocked(b.session, desc, early)
}

// setRemoteLocked applies desc and then every queued candidate, early ones
// first, in arrival order. The queue is empty afterwards for good.
func (m *Manager) setRemoteLocked(s *Session, desc webrtc.SessionDescription, early []webrtc.ICECandidateInit) error {
	if err := s.peer.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	queued := make([]webrtc.ICECandidateInit, 0, len(early)+len(s.pending))
	queued = append(queued, early...)
	queued = append(queued, s.pending...)
	s.pending = nil

	for _, c := range queued {
		if err := s.peer.AddICECandidate(c); err != nil {
			log.Warnf("queued candidate from %s rejected: %v", s.target, err)
		}
	}
	if len(queued) > 0 {
		log.Debugf("flushed %d queued candidates from %s", len(queued), s.target)
	}
	return nil
}

// commit promotes the build to the established call and posts its
// description, followed by any local candidates gathered so far.
func (m *Manager) commit(b *build, typ signaling.Type, data string) error {
	m.mu.Lock()
	if b.err != nil {
		err := b.err
		m.mu.Unlock()
		return err
	}

	s := b.session
	m.inflight = nil
	m.session = s

	s.announced = true
	m.opts.Signals.Post(s.target, typ, data)
	for _, c := range s.outgoing {
		m.opts.Signals.Post(s.target, signaling.TypeCandidate, c)
	}
	s.outgoing = nil

	state, changed := m.transitionLocked()
	m.mu.Unlock()

	util.Stats.AddCallStarted()
	m.notifyState(state, changed)
	return nil
}

// fail releases the attempt's partial session. A displaced attempt reports
// why it was displaced instead of err.
func (m *Manager) fail(b *build, err error) error {
	m.mu.Lock()
	if b.err != nil {
		err = b.err
		m.mu.Unlock()
		return err
	}
	res := b.session.detach()
	b.err = err
	if m.inflight == b {
		m.inflight = nil
	}
	state, changed := m.transitionLocked()
	m.mu.Unlock()

	log.Errorf("call with %s failed: %v", res.target, err)
	res.release()
	m.notifyState(state, changed)
	return err
}

// ---------------------------------------------------------------------------
// Inbound signals
// ---------------------------------------------------------------------------

// HandleSignal applies an ANSWER or CANDIDATE to the call with sender, or
// tears that call down on HANGUP, BUSY or REJECT. Anything else, and any
// signal from a peer this client is not calling, is logged and dropped.
func (m *Manager) HandleSignal(sender string, typ signaling.Type, data string) {
	switch typ {
	case signaling.TypeAnswer:
		m.handleAnswer(sender, data)
	case signaling.TypeCandidate:
		m.handleCandidate(sender, data)
	case signaling.TypeHangup, signaling.TypeBusy, signaling.TypeReject:
		if !m.teardown(sender, fmt.Sprintf("%s from %s", typ, sender)) {
			log.Debugf("ignoring %s from %s: no call with them", typ, sender)
		}
	default:
		log.Debugf("%s from %s is not a call signal", typ, sender)
	}
}

func (m *Manager) handleAnswer(sender, data string) {
	desc, err := signaling.DecodeDescription(data, webrtc.SDPTypeAnswer)
	if err != nil {
		drop(sender, signaling.TypeAnswer, err.Error())
		return
	}

	m.mu.Lock()
	s := m.targetLocked(sender)
	switch {
	case s == nil:
		m.mu.Unlock()
		drop(sender, signaling.TypeAnswer, "no call with sender")
		return
	case s.role != RoleInitiator || s.peer == nil || s.remoteSet():
		m.mu.Unlock()
		drop(sender, signaling.TypeAnswer, "not awaiting an answer")
		return
	}
	err = m.setRemoteLocked(s, desc, nil)
	state, changed := m.transitionLocked()
	m.mu.Unlock()

	if err != nil {
		log.Errorf("answer from %s: %v", sender, err)
	}
	m.notifyState(state, changed)
}

func (m *Manager) handleCandidate(sender, data string) {
	c, err := signaling.DecodeCandidate(data)
	if err != nil {
		drop(sender, signaling.TypeCandidate, err.Error())
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.targetLocked(sender)
	if s == nil {
		drop(sender, signaling.TypeCandidate, "no call with sender")
		return
	}
	if s.remoteSet() {
		if err := s.peer.AddICECandidate(c); err != nil {
			log.Warnf("candidate from %s rejected: %v", sender, err)
		}
		return
	}
	s.pending = append(s.pending, c)
	log.Debugf("queued candidate from %s (%d pending)", sender, len(s.pending))
}

// targetLocked returns the established or in-flight session with peer.
func (m *Manager) targetLocked(peer string) *Session {
	if s := m.session; s != nil && s.target == peer {
		return s
	}
	if b := m.inflight; b != nil && b.session.target == peer {
		return b.session
	}
	return nil
}

// ---------------------------------------------------------------------------
// Peer callbacks
// ---------------------------------------------------------------------------

func (m *Manager) onLocalCandidate(s *Session, c webrtc.ICECandidateInit) {
	data, err := signaling.EncodeCandidate(c)
	if err != nil {
		log.Warnf("local candidate: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.closed {
		return
	}
	if !s.announced {
		s.outgoing = append(s.outgoing, data)
		return
	}
	m.opts.Signals.Post(s.target, signaling.TypeCandidate, data)
}

func (m *Manager) onRemoteTrack(s *Session, t *webrtc.TrackRemote) {
	m.mu.Lock()
	remote := s.remote
	m.mu.Unlock()
	if remote == nil {
		return
	}
	remote.Add(t)
	if fn := m.opts.Observer.OnRemoteTrack; fn != nil {
		fn(t)
	}
}

func (m *Manager) onPeerState(state webrtc.PeerConnectionState) {
	if fn := m.opts.Observer.OnPeerState; fn != nil {
		fn(state)
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Hangup posts HANGUP to target when one is given, then tears down the call
// and any attempt in flight. Safe to call with no call.
func (m *Manager) Hangup(target string) {
	if target != "" {
		m.opts.Signals.Post(target, signaling.TypeHangup, signaling.EmptyData)
	}
	if !m.teardown("", "local hangup") {
		log.Debugf("hangup: no call")
	}
}

// teardown ends the established call and cancels the in-flight attempt.
// A non-empty from limits it to calls with that peer. It reports whether
// anything was torn down.
func (m *Manager) teardown(from, reason string) bool {
	m.mu.Lock()
	var released []resources
	if s := m.session; s != nil && (from == "" || s.target == from) {
		released = append(released, s.detach())
		m.session = nil
	}
	if b := m.inflight; b != nil && (from == "" || b.session.target == from) {
		b.err = ErrCancelled
		released = append(released, b.session.detach())
		m.inflight = nil
	}
	state, changed := m.transitionLocked()
	m.mu.Unlock()

	if len(released) == 0 {
		return false
	}

	for _, r := range released {
		r.release()
	}
	target := released[0].target
	log.Infof("call with %s ended (%s)", target, reason)
	util.Stats.AddCallEnded()

	m.notifyState(state, changed)
	if fn := m.opts.Observer.OnHangup; fn != nil {
		fn(target)
	}
	return true
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

func (m *Manager) stateLocked() State {
	if s := m.session; s != nil {
		if s.remoteSet() {
			return StateActive
		}
		return StateNegotiating
	}
	if m.inflight != nil {
		return StateNegotiating
	}
	return StateIdle
}

func (m *Manager) transitionLocked() (State, bool) {
	state := m.stateLocked()
	changed := state != m.state
	m.state = state
	return state, changed
}

func (m *Manager) notifyState(state State, changed bool) {
	if !changed {
		return
	}
	log.Debugf("state: %s", state)
	if fn := m.opts.Observer.OnState; fn != nil {
		fn(state)
	}
}

// State returns the current call state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Busy reports whether a call exists or is being set up.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil || m.inflight != nil
}

// Target returns the peer of the established call, else of the attempt in
// flight, else "".
func (m *Manager) Target() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return m.session.target
	}
	if m.inflight != nil {
		return m.inflight.session.target
	}
	return ""
}

// Role returns the established call's role.
func (m *Manager) Role() (Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0, false
	}
	return m.session.role, true
}

// IsScreenSharing reports whether the outbound video is the screen capture.
func (m *Manager) IsScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.sharing
}

// LocalStream returns what is being sent: the camera, or the capture while
// sharing.
func (m *Manager) LocalStream() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.local
}

// CameraStream returns the camera stream kept across screen sharing.
func (m *Manager) CameraStream() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.camera
}

// RemoteStream returns the established call's inbound media.
func (m *Manager) RemoteStream() *media.RemoteStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.remote
}

// VideoTrackID returns the id of the track on the outbound video sender.
func (m *Manager) VideoTrackID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.peer == nil {
		return ""
	}
	return m.session.peer.VideoTrackID()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func decodeCandidates(sender string, data []string) []webrtc.ICECandidateInit {
	out := make([]webrtc.ICECandidateInit, 0, len(data))
	for _, d := range data {
		c, err := signaling.DecodeCandidate(d)
		if err != nil {
			drop(sender, signaling.TypeCandidate, err.Error())
			continue
		}
		out = append(out, c)
	}
	return out
}

func drop(sender string, typ signaling.Type, why string) {
	util.Stats.AddDropped()
	log.Warnf("dropping %s from %s: %s", typ, sender, why)
}
