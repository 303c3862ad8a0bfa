// Package transport wraps a pion PeerConnection with the narrow surface the
// call layer drives: track attachment, video track substitution and the
// offer/answer/candidate exchange.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/sajacaros/conference-chat/internal/util"
)

var log = util.Scope("transport")

// ErrNoVideoSender is returned by ReplaceVideoTrack before a video track
// has been added.
var ErrNoVideoSender = errors.New("no video sender")

// Handlers are the PeerConnection events forwarded to the owner. Nil
// handlers are skipped.
type Handlers struct {
	// OnCandidate receives each gathered local candidate, not the
	// end-of-gathering marker.
	OnCandidate func(webrtc.ICECandidateInit)
	OnTrack     func(*webrtc.TrackRemote)
	OnState     func(webrtc.PeerConnectionState)
}

// Peer is a single PeerConnection and the senders attached to it.
//
// Its lifecycle is governed by Close. The PeerConnection state is recorded
// but does not drive open/close decisions.
type Peer struct {
	pc *webrtc.PeerConnection

	mu     sync.RWMutex
	video  *webrtc.RTPSender
	state  webrtc.PeerConnectionState
	closed bool
}

// NewPeer creates a Peer from api. The caller performs signaling through
// the exposed methods and must Close the Peer when done.
func NewPeer(api *webrtc.API, cfg Config, h Handlers) (*Peer, error) {
	pc, err := api.NewPeerConnection(cfg.configuration())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &Peer{
		pc:    pc,
		state: webrtc.PeerConnectionStateNew,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || h.OnCandidate == nil {
			return
		}
		h.OnCandidate(c.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debugf("remote %s track %s", track.Kind(), track.ID())
		if h.OnTrack != nil {
			h.OnTrack(track)
		}
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Infof("peer connection state: %s", state)
		p.mu.Lock()
		p.state = state
		p.mu.Unlock()
		if h.OnState != nil {
			h.OnState(state)
		}
	})

	return p, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts down the PeerConnection. Safe to call repeatedly.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, s := range p.pc.GetSenders() {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, p.pc.Close())
	return errors.Join(errs...)
}

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches a local track. Inbound RTCP on its sender is drained
// so interceptors keep working; the first video sender is remembered for
// ReplaceVideoTrack.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		p.mu.Lock()
		if p.video == nil {
			p.video = sender
		}
		p.mu.Unlock()
	}

	go drainRTCP(sender)
	return nil
}

// ReplaceVideoTrack swaps the outbound video track without renegotiation.
// The audio sender is never touched.
func (p *Peer) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	p.mu.RLock()
	sender := p.video
	p.mu.RUnlock()

	if sender == nil {
		return ErrNoVideoSender
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	return nil
}

// VideoTrackID returns the id of the track the video sender currently
// carries, or "" when there is none.
func (p *Peer) VideoTrackID() string {
	p.mu.RLock()
	sender := p.video
	p.mu.RUnlock()

	if sender == nil || sender.Track() == nil {
		return ""
	}
	return sender.Track().ID()
}

// drainRTCP reads RTCP until the sender stops. Keyframe requests are logged.
func drainRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if t := sender.Track(); t != nil {
					log.Debugf("keyframe requested on %s", t.ID())
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// HasRemoteDescription reports whether a remote SDP has been applied.
func (p *Peer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}
