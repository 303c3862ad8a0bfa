package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/sajacaros/conference-chat/internal/media"
	"github.com/sajacaros/conference-chat/internal/signaling"
	"github.com/sajacaros/conference-chat/internal/transport"
)

// fakePeer records what the manager does to a peer connection.
type fakePeer struct {
	h transport.Handlers

	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	video      webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []string
	closed     bool

	// gather is emitted through OnCandidate when the local description is set.
	gather []webrtc.ICECandidateInit
}

func (p *fakePeer) AddTrack(t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("peer closed")
	}
	p.tracks = append(p.tracks, t)
	if t.Kind() == webrtc.RTPCodecTypeVideo && p.video == nil {
		p.video = t
	}
	return nil
}

func (p *fakePeer) ReplaceVideoTrack(t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.video == nil {
		return transport.ErrNoVideoSender
	}
	p.video = t
	return nil
}

func (p *fakePeer) VideoTrackID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.video == nil {
		return ""
	}
	return p.video.ID()
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("peer closed")
	}
	p.local = &d
	gather := p.gather
	p.mu.Unlock()

	for _, c := range gather {
		p.h.OnCandidate(c)
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("peer closed")
	}
	p.remote = &d
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote != nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) applied() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

// fakePeers is a PeerFactory that remembers every peer it made.
type fakePeers struct {
	mu     sync.Mutex
	peers  []*fakePeer
	gather []webrtc.ICECandidateInit
}

func (f *fakePeers) New(h transport.Handlers) (Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{h: h, gather: f.gather}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeers) all() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

func (f *fakePeers) open() []*fakePeer {
	var out []*fakePeer
	for _, p := range f.all() {
		if !p.isClosed() {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakePeers) last(t *testing.T) *fakePeer {
	t.Helper()
	all := f.all()
	if len(all) == 0 {
		t.Fatal("no peer was created")
	}
	return all[len(all)-1]
}

// fakeSignals records posted signals.
type fakeSignals struct {
	mu   sync.Mutex
	sent []signaling.Message
}

func (f *fakeSignals) Post(target string, typ signaling.Type, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, signaling.Message{Target: target, Type: typ, Data: data})
}

func (f *fakeSignals) messages() []signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signaling.Message(nil), f.sent...)
}

func (f *fakeSignals) types() []string {
	var out []string
	for _, m := range f.messages() {
		out = append(out, fmt.Sprintf("%s>%s", m.Type, m.Target))
	}
	return out
}

// gatedSource blocks UserMedia until release is closed.
type gatedSource struct {
	media.SyntheticSource
	requested chan struct{}
	release   chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		requested: make(chan struct{}, 8),
		release:   make(chan struct{}),
	}
}

func (g *gatedSource) UserMedia(ctx context.Context) (*media.Stream, error) {
	g.requested <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.SyntheticSource.UserMedia(ctx)
}

// failingSource has no camera.
type failingSource struct{ media.SyntheticSource }

func (failingSource) UserMedia(context.Context) (*media.Stream, error) {
	return nil, fmt.Errorf("%w: camera permission denied", media.ErrUnavailable)
}

// screenSource hands out display streams the test can end.
type screenSource struct {
	media.SyntheticSource
	mu      sync.Mutex
	screens []*media.Stream
}

func (s *screenSource) DisplayMedia(ctx context.Context) (*media.Stream, error) {
	st, err := s.SyntheticSource.DisplayMedia(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.screens = append(s.screens, st)
	s.mu.Unlock()
	return st, nil
}

func (s *screenSource) lastScreen() *media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screens[len(s.screens)-1]
}

// observed records observer callbacks.
type observed struct {
	mu      sync.Mutex
	hangups []string
	states  []State
	shares  []bool
}

func (o *observed) observer() Observer {
	return Observer{
		OnHangup: func(target string) {
			o.mu.Lock()
			o.hangups = append(o.hangups, target)
			o.mu.Unlock()
		},
		OnState: func(s State) {
			o.mu.Lock()
			o.states = append(o.states, s)
			o.mu.Unlock()
		},
		OnScreenShare: func(sharing bool) {
			o.mu.Lock()
			o.shares = append(o.shares, sharing)
			o.mu.Unlock()
		},
	}
}

func (o *observed) hangupCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.hangups)
}

type harness struct {
	m       *Manager
	peers   *fakePeers
	signals *fakeSignals
	obs     *observed
}

func newHarness(t *testing.T, src media.Source) *harness {
	t.Helper()
	if src == nil {
		src = media.SyntheticSource{}
	}
	h := &harness{
		peers:   &fakePeers{},
		signals: &fakeSignals{},
		obs:     &observed{},
	}
	m, err := NewManager(Options{
		Peers:    h.peers.New,
		Media:    src,
		Signals:  h.signals,
		Observer: h.obs.observer(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	h.m = m
	return h
}

func candidate(t *testing.T, name string) string {
	t.Helper()
	data, err := signaling.EncodeCandidate(webrtc.ICECandidateInit{Candidate: name})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func description(t *testing.T, typ webrtc.SDPType) string {
	t.Helper()
	data, err := signaling.EncodeDescription(webrtc.SessionDescription{Type: typ, SDP: "v=0 " + typ.String()})
	if err != nil {
		t.Fatal(err)
	}
	return data
}
