package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Source produces local media. UserMedia is the camera and microphone;
// DisplayMedia is a screen capture with a single video track.
type Source interface {
	UserMedia(ctx context.Context) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
}

var (
	opusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// newSampleTrack creates a sample-fed local track labelled label-<uuid>.
func newSampleTrack(codec webrtc.RTPCodecCapability, label, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	t, err := webrtc.NewTrackLocalStaticSample(codec, label+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", label, err)
	}
	return t, nil
}

// SyntheticSource yields tracks that never carry samples. They negotiate
// like real tracks, which is all a headless client or a test needs.
type SyntheticSource struct {
	// NoDisplay makes DisplayMedia fail with ErrUnavailable.
	NoDisplay bool
}

func (SyntheticSource) UserMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := "camera-" + uuid.NewString()
	audio, err := newSampleTrack(opusCodec, "audio", streamID)
	if err != nil {
		return nil, err
	}
	video, err := newSampleTrack(vp8Codec, "video", streamID)
	if err != nil {
		return nil, err
	}
	return NewStream(NewTrack(audio, nil), NewTrack(video, nil)), nil
}

func (s SyntheticSource) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.NoDisplay {
		return nil, fmt.Errorf("%w: display capture disabled", ErrUnavailable)
	}
	video, err := newSampleTrack(vp8Codec, "screen", "screen-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	return NewStream(NewTrack(video, nil)), nil
}
