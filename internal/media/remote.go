package media

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the read side of an inbound track. *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink consumes RTP from remote tracks.
type Sink interface {
	WriteRTP(track RemoteTrack, pkt *rtp.Packet) error
	Close() error
}

// RemoteStream collects the peer's inbound tracks and keeps one reader
// goroutine per track until Stop.
type RemoteStream struct {
	sink Sink

	mu      sync.Mutex
	tracks  []RemoteTrack
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRemoteStream creates an empty stream. sink may be nil, in which case
// packets are read and discarded so interceptors keep running.
func NewRemoteStream(sink Sink) *RemoteStream {
	return &RemoteStream{sink: sink, done: make(chan struct{})}
}

// Add starts reading t. Tracks added after Stop are ignored.
func (r *RemoteStream) Add(t RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.tracks = append(r.tracks, t)
	r.wg.Add(1)
	go r.read(t)
	log.Infof("remote %s track %s (%s)", t.Kind(), t.ID(), t.Codec().MimeType)
}

func (r *RemoteStream) read(t RemoteTrack) {
	defer r.wg.Done()
	for {
		pkt, _, err := t.ReadRTP()
		if err != nil {
			return
		}
		select {
		case <-r.done:
			return
		default:
		}
		if r.sink == nil {
			continue
		}
		if err := r.sink.WriteRTP(t, pkt); err != nil {
			log.Warnf("sink rejected packet from %s: %v", t.ID(), err)
			return
		}
	}
}

// Tracks returns the tracks added so far.
func (r *RemoteStream) Tracks() []RemoteTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteTrack(nil), r.tracks...)
}

// Stop ends all readers and closes the sink. Readers blocked in ReadRTP exit
// once the owning peer connection is closed; Stop does not wait for them.
func (r *RemoteStream) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.done)
	r.mu.Unlock()

	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			log.Warnf("close sink: %v", err)
		}
	}
}

// Stopped reports whether Stop has been called.
func (r *RemoteStream) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Wait blocks until every reader has exited.
func (r *RemoteStream) Wait() { r.wg.Wait() }
