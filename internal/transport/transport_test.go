package transport

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func newTestPeer(t *testing.T, h Handlers) *Peer {
	t.Helper()
	cfg := Config{STUNServers: []string{}}
	api, err := NewAPI(cfg)
	if err != nil {
		t.Fatalf("NewAPI failed: %v", err)
	}
	p, err := NewPeer(api, cfg, h)
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func sampleTrack(t *testing.T, mime, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	codec := webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000}
	if mime == webrtc.MimeTypeOpus {
		codec = webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 48000, Channels: 2}
	}
	tr, err := webrtc.NewTrackLocalStaticSample(codec, id, "stream")
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestOfferAnswerExchange(t *testing.T) {
	caller := newTestPeer(t, Handlers{})
	callee := newTestPeer(t, Handlers{})

	for _, p := range []*Peer{caller, callee} {
		if err := p.AddTrack(sampleTrack(t, webrtc.MimeTypeOpus, "audio")); err != nil {
			t.Fatalf("AddTrack audio: %v", err)
		}
		if err := p.AddTrack(sampleTrack(t, webrtc.MimeTypeVP8, "camera")); err != nil {
			t.Fatalf("AddTrack video: %v", err)
		}
	}

	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if err := caller.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription failed: %v", err)
	}

	audioAt := strings.Index(offer.SDP, "m=audio")
	videoAt := strings.Index(offer.SDP, "m=video")
	if audioAt < 0 || videoAt < 0 || audioAt > videoAt {
		t.Errorf("expected audio m-line before video (audio=%d video=%d)", audioAt, videoAt)
	}

	if callee.HasRemoteDescription() {
		t.Error("fresh peer reports a remote description")
	}
	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("callee SetRemoteDescription failed: %v", err)
	}
	if !callee.HasRemoteDescription() {
		t.Error("remote description not recorded")
	}

	answer, err := callee.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	if err := callee.SetLocalDescription(answer); err != nil {
		t.Fatalf("callee SetLocalDescription failed: %v", err)
	}
	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("caller SetRemoteDescription failed: %v", err)
	}
}

func TestCandidateNeedsRemoteDescription(t *testing.T) {
	p := newTestPeer(t, Handlers{})

	err := p.AddICECandidate(webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 54400 typ host",
	})
	if err == nil {
		t.Error("expected AddICECandidate to fail without a remote description")
	}
}

func TestReplaceVideoTrack(t *testing.T) {
	p := newTestPeer(t, Handlers{})

	screen := sampleTrack(t, webrtc.MimeTypeVP8, "screen")
	if err := p.ReplaceVideoTrack(screen); err != ErrNoVideoSender {
		t.Errorf("expected ErrNoVideoSender, got %v", err)
	}
	if id := p.VideoTrackID(); id != "" {
		t.Errorf("VideoTrackID = %q before any track", id)
	}

	if err := p.AddTrack(sampleTrack(t, webrtc.MimeTypeOpus, "audio")); err != nil {
		t.Fatal(err)
	}
	if err := p.AddTrack(sampleTrack(t, webrtc.MimeTypeVP8, "camera")); err != nil {
		t.Fatal(err)
	}
	if id := p.VideoTrackID(); id != "camera" {
		t.Errorf("VideoTrackID = %q, want camera", id)
	}

	if err := p.ReplaceVideoTrack(screen); err != nil {
		t.Fatalf("ReplaceVideoTrack failed: %v", err)
	}
	if id := p.VideoTrackID(); id != "screen" {
		t.Errorf("VideoTrackID = %q, want screen", id)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := newTestPeer(t, Handlers{})
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestConfigurationDefaults(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
		want int
	}{
		{"nil uses defaults", Config{}, 1},
		{"empty disables STUN", Config{STUNServers: []string{}}, 0},
		{"custom", Config{STUNServers: []string{"stun:example.org:3478"}}, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.cfg.configuration()
			if len(got.ICEServers) != tc.want {
				t.Errorf("got %d ICE servers, want %d", len(got.ICEServers), tc.want)
			}
		})
	}
}
