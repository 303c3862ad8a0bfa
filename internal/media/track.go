// Package media holds the local and remote media the call layer hands to a
// peer connection: stoppable local tracks grouped into streams, sources that
// produce them, and sinks for remote tracks.
package media

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/sajacaros/conference-chat/internal/util"
)

var log = util.Scope("media")

// ErrUnavailable is returned when a source cannot produce the requested
// media (no device, permission denied, no file configured).
var ErrUnavailable = errors.New("media unavailable")

// Track is a local track that can be stopped. Stop is what the owner calls;
// End is what the producer calls when the track runs out on its own, and
// only End fires OnEnded.
type Track struct {
	local webrtc.TrackLocal
	stop  func()

	once sync.Once
	done chan struct{}

	mu      sync.Mutex
	onEnded []func()
}

// NewTrack wraps local. stop releases whatever feeds the track and may be nil.
func NewTrack(local webrtc.TrackLocal, stop func()) *Track {
	return &Track{
		local: local,
		stop:  stop,
		done:  make(chan struct{}),
	}
}

func (t *Track) ID() string { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.local.Kind() }
func (t *Track) Local() webrtc.TrackLocal { return t.local }
func (t *Track) Done() <-chan struct{} { return t.done }

// Live reports whether the track has not been stopped or ended.
func (t *Track) Live() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Stop releases the track. Safe to call repeatedly.
func (t *Track) Stop() { t.finish() }

// End stops the track and notifies OnEnded listeners, once.
func (t *Track) End() {
	if !t.finish() {
		return
	}
	t.mu.Lock()
	fns := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// OnEnded registers fn to run when the producer ends the track.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

func (t *Track) finish() bool {
	first := false
	t.once.Do(func() {
		first = true
		close(t.done)
		if t.stop != nil {
			t.stop()
		}
	})
	return first
}

// Stream is an ordered bundle of local tracks, audio before video.
type Stream struct {
	id     string
	tracks []*Track
}

// NewStream groups tracks under a fresh stream id.
func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns audio tracks first, then video, preserving relative order.
func (s *Stream) Tracks() []*Track {
	out := make([]*Track, 0, len(s.tracks))
	out = append(out, s.byKind(webrtc.RTPCodecTypeAudio)...)
	return append(out, s.byKind(webrtc.RTPCodecTypeVideo)...)
}

// Audio returns the first audio track, or nil.
func (s *Stream) Audio() *Track { return first(s.byKind(webrtc.RTPCodecTypeAudio)) }

// Video returns the first video track, or nil.
func (s *Stream) Video() *Track { return first(s.byKind(webrtc.RTPCodecTypeVideo)) }

// Stop stops every track in the stream.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Live reports whether any track is still live.
func (s *Stream) Live() bool {
	for _, t := range s.tracks {
		if t.Live() {
			return true
		}
	}
	return false
}

func (s *Stream) byKind(kind webrtc.RTPCodecType) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func first(ts []*Track) *Track {
	if len(ts) == 0 {
		return nil
	}
	return ts[0]
}
