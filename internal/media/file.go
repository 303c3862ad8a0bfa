package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	defaultFrameDuration = 33 * time.Millisecond
	oggPageDuration      = 20 * time.Millisecond
)

// FileSource plays media files into sample tracks. Video and Audio loop for
// as long as the camera stream lives; Screen plays once and then ends its
// track, the same way a capture ends when the user stops sharing.
type FileSource struct {
	Video  string // IVF, VP8
	Audio  string // Ogg, Opus
	Screen string // IVF, VP8
}

func (s FileSource) UserMedia(ctx context.Context) (*Stream, error) {
	if s.Video == "" && s.Audio == "" {
		return nil, fmt.Errorf("%w: no media files configured", ErrUnavailable)
	}
	for _, p := range []string{s.Audio, s.Video} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	streamID := "camera-" + uuid.NewString()
	var tracks []*Track

	if s.Audio != "" {
		t, err := s.play(ctx, opusCodec, "audio", streamID, s.Audio, playOgg, true)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if s.Video != "" {
		t, err := s.play(ctx, vp8Codec, "video", streamID, s.Video, playIVF, true)
		if err != nil {
			NewStream(tracks...).Stop()
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return NewStream(tracks...), nil
}

func (s FileSource) DisplayMedia(ctx context.Context) (*Stream, error) {
	if s.Screen == "" {
		return nil, fmt.Errorf("%w: no screen file configured", ErrUnavailable)
	}
	if _, err := os.Stat(s.Screen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	t, err := s.play(ctx, vp8Codec, "screen", "screen-"+uuid.NewString(), s.Screen, playIVF, false)
	if err != nil {
		return nil, err
	}
	return NewStream(t), nil
}

type playFunc func(ctx context.Context, path string, out *webrtc.TrackLocalStaticSample) error

// play starts a goroutine feeding path into a new track. A looping track
// restarts at EOF; a one-shot track is ended.
func (FileSource) play(ctx context.Context, codec webrtc.RTPCodecCapability, label, streamID, path string, fn playFunc, loop bool) (*Track, error) {
	local, err := newSampleTrack(codec, label, streamID)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithCancel(ctx)
	track := NewTrack(local, cancel)

	go func() {
		for {
			err := fn(pctx, path, local)
			switch {
			case pctx.Err() != nil:
				return
			case errors.Is(err, io.EOF) && loop:
				continue
			case errors.Is(err, io.EOF):
				log.Debugf("%s finished: %s", label, path)
			default:
				log.Warnf("%s playback stopped: %v", label, err)
			}
			track.End()
			return
		}
	}()
	return track, nil
}

// playIVF writes one pass of an IVF file, one frame per timebase tick.
func playIVF(ctx context.Context, path string, out *webrtc.TrackLocalStaticSample) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read IVF header: %w", err)
	}

	frameDuration := defaultFrameDuration
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	return pump(ctx, frameDuration, out, func() ([]byte, error) {
		frame, _, err := reader.ParseNextFrame()
		return frame, err
	})
}

// playOgg writes one pass of an Ogg/Opus file, one page per tick.
func playOgg(ctx context.Context, path string, out *webrtc.TrackLocalStaticSample) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read Ogg header: %w", err)
	}

	return pump(ctx, oggPageDuration, out, func() ([]byte, error) {
		page, _, err := reader.ParseNextPage()
		return page, err
	})
}

func pump(ctx context.Context, every time.Duration, out *webrtc.TrackLocalStaticSample, next func() ([]byte, error)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		data, err := next()
		if err != nil {
			return err
		}
		if err := out.WriteSample(pionmedia.Sample{Data: data, Duration: every}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
}
