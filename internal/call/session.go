package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/sajacaros/conference-chat/internal/media"
)

// Session is the state of one call. Every field is guarded by the owning
// Manager's mutex.
type Session struct {
	role   Role
	target string

	peer   Peer
	local  *media.Stream // camera, or the capture while sharing
	camera *media.Stream
	screen *media.Stream
	remote *media.RemoteStream

	// pending holds remote candidates until a remote description is set.
	pending []webrtc.ICECandidateInit
	// outgoing holds local candidates until the offer or answer is posted.
	outgoing  []string
	announced bool

	sharing  bool
	starting bool // display capture in progress
	closed   bool
}

func newSession(role Role, target string, sink media.Sink) *Session {
	return &Session{
		role:   role,
		target: target,
		remote: media.NewRemoteStream(sink),
	}
}

func (s *Session) remoteSet() bool {
	return s.peer != nil && s.peer.HasRemoteDescription()
}

// resources are what a detached session still has to release.
type resources struct {
	target string
	peer   Peer
	camera *media.Stream
	screen *media.Stream
	remote *media.RemoteStream
}

// detach marks s closed and takes its resources, leaving every field at its
// zero state. The caller must hold the manager's mutex.
func (s *Session) detach() resources {
	r := resources{
		target: s.target,
		peer:   s.peer,
		camera: s.camera,
		screen: s.screen,
		remote: s.remote,
	}
	s.closed = true
	s.peer = nil
	s.local = nil
	s.camera = nil
	s.screen = nil
	s.remote = nil
	s.pending = nil
	s.outgoing = nil
	s.sharing = false
	return r
}

// release closes the peer and stops every local and remote track.
func (r resources) release() {
	if r.peer != nil {
		if err := r.peer.Close(); err != nil {
			log.Warnf("close peer for %s: %v", r.target, err)
		}
	}
	if r.screen != nil {
		r.screen.Stop()
	}
	if r.camera != nil {
		r.camera.Stop()
	}
	if r.remote != nil {
		r.remote.Stop()
	}
}

// build is the single in-flight construction slot. done is closed when the
// attempt returns, however it ends.
type build struct {
	session *Session
	done    chan struct{}
	// prev is the displaced attempt's done channel, if any.
	prev <-chan struct{}
	// err is set once the attempt is over: displaced by another attempt or a
	// hangup, or failed on its own.
	err error
}
