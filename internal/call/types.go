// Package call owns the single peer-to-peer call a client can have: its
// construction, the offer/answer/candidate exchange, screen sharing and
// teardown.
package call

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/sajacaros/conference-chat/internal/media"
	"github.com/sajacaros/conference-chat/internal/signaling"
	"github.com/sajacaros/conference-chat/internal/transport"
	"github.com/sajacaros/conference-chat/internal/util"
)

var log = util.Scope("call")

var (
	// ErrSuperseded is returned by StartCall/AcceptCall when a newer call
	// attempt took over before this one finished.
	ErrSuperseded = errors.New("call attempt superseded")
	// ErrCancelled is returned when a hangup ended the attempt mid-setup.
	ErrCancelled = errors.New("call attempt cancelled")
	// ErrNoSession is returned by operations that need an established call.
	ErrNoSession = errors.New("no call session")
	// ErrShareInProgress is returned while a display capture is being acquired.
	ErrShareInProgress = errors.New("screen share already starting")
)

// Role is which side of the offer/answer exchange this client is on.
type Role int

const (
	RoleInitiator Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "receiver"
}

// State is the coarse call state.
type State int

const (
	StateIdle        State = iota
	StateNegotiating       // peer exists, no remote description yet
	StateActive            // remote description applied
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// Peer is the part of a peer connection the manager drives.
// *transport.Peer satisfies it.
type Peer interface {
	AddTrack(track webrtc.TrackLocal) error
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	VideoTrackID() string
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// PeerFactory creates a fresh peer wired to h.
type PeerFactory func(h transport.Handlers) (Peer, error)

// TransportPeers returns a PeerFactory producing pion-backed peers.
func TransportPeers(api *webrtc.API, cfg transport.Config) PeerFactory {
	return func(h transport.Handlers) (Peer, error) {
		return transport.NewPeer(api, cfg, h)
	}
}

// Signaler delivers outbound signals, best-effort and in call order.
// *signaling.Outbox satisfies it.
type Signaler interface {
	Post(target string, typ signaling.Type, data string)
}

// Observer receives call events. Nil callbacks are skipped. Callbacks run
// without the manager's lock held and may call back into the Manager.
type Observer struct {
	OnState       func(State)
	OnLocalStream func(*media.Stream)
	OnRemoteTrack func(media.RemoteTrack)
	OnScreenShare func(sharing bool)
	OnPeerState   func(webrtc.PeerConnectionState)
	// OnHangup fires once per ended call: local hangup, a terminating signal
	// from the peer, or a hangup that cancelled setup. Replacing a call with
	// a new attempt is not a hangup.
	OnHangup func(target string)
}

// Options configure a Manager. Peers, Media and Signals are required.
type Options struct {
	Peers   PeerFactory
	Media   media.Source
	Signals Signaler

	// Sink, when set, is asked for a sink for each new call's remote media.
	Sink func(target string) (media.Sink, error)

	Observer Observer
}
