package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/sajacaros/conference-chat/internal/util"
)

// Recorder is a Sink that writes remote VP8 to IVF and Opus to Ogg, one
// file per track, under dir.
type Recorder struct {
	dir    string
	prefix string

	mu      sync.Mutex
	writers map[string]rtpWriter
	closed  bool
}

type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// NewRecorder creates dir if needed. prefix names the files, e.g. the peer.
func NewRecorder(dir, prefix string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &Recorder{
		dir:     dir,
		prefix:  sanitize(prefix),
		writers: make(map[string]rtpWriter),
	}, nil
}

func (r *Recorder) WriteRTP(track RemoteTrack, pkt *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder closed")
	}

	w, ok := r.writers[track.ID()]
	if !ok {
		var err error
		if w, err = r.open(track); err != nil {
			return err
		}
		r.writers[track.ID()] = w
	}

	if err := w.WriteRTP(pkt); err != nil {
		return err
	}
	util.Stats.AddRecorded(len(pkt.Payload))
	return nil
}

func (r *Recorder) open(track RemoteTrack) (rtpWriter, error) {
	base := filepath.Join(r.dir, r.prefix+"_"+sanitize(track.ID()))
	switch mime := track.Codec().MimeType; {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		log.Infof("recording video to %s.ivf", base)
		return ivfwriter.New(base + ".ivf")
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		log.Infof("recording audio to %s.ogg", base)
		return oggwriter.New(base+".ogg", 48000, 2)
	default:
		return nil, fmt.Errorf("cannot record %s", mime)
	}
}

// Close finalizes every file. Safe to call repeatedly.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for id, w := range r.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	r.writers = nil
	return errors.Join(errs...)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
