//go:build linux && cgo

package capture

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/sajacaros/conference-chat/internal/media"
)

// Available reports whether this build can capture devices.
const Available = true

// Source captures camera, microphone and screen through pion/mediadevices.
type Source struct {
	selector *mediadevices.CodecSelector
}

// New builds the VP8 + Opus encoder selection.
func New() (*Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Source{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// UserMedia opens the camera and microphone. Both are tried together first,
// then each alone, so a busy microphone does not cost the camera.
func (s *Source) UserMedia(ctx context.Context) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attempts := []struct {
		video, audio bool
		label        string
	}{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				c.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warnf("GetUserMedia (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}
		log.Infof("captured %s", a.label)
		return wrap(stream), nil
	}
	return nil, fmt.Errorf("%w: %v", media.ErrUnavailable, lastErr)
}

// DisplayMedia captures the screen.
func (s *Source) DisplayMedia(ctx context.Context) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(*mediadevices.MediaTrackConstraints) {},
		Codec: s.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrUnavailable, err)
	}
	return wrap(stream), nil
}

func wrap(stream mediadevices.MediaStream) *media.Stream {
	var tracks []*media.Track
	for _, mt := range stream.GetTracks() {
		mt := mt
		t := media.NewTrack(mt, func() {
			if err := mt.Close(); err != nil {
				log.Debugf("close %s: %v", mt.ID(), err)
			}
		})
		mt.OnEnded(func(err error) {
			if err != nil {
				log.Debugf("track %s ended: %v", mt.ID(), err)
			}
			t.End()
		})
		tracks = append(tracks, t)
	}
	return media.NewStream(tracks...)
}
