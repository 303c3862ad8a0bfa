package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrMalformedPayload is returned when a signal's data cannot be decoded.
var ErrMalformedPayload = errors.New("malformed signal payload")

// EncodeDescription serializes an SDP offer/answer as {"type": ..., "sdp": ...}.
func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encode session description: %w", err)
	}
	return string(data), nil
}

// DecodeDescription parses a serialized SDP and checks it has the expected type.
func DecodeDescription(data string, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(data), &desc); err != nil {
		return desc, fmt.Errorf("%w: session description: %v", ErrMalformedPayload, err)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("%w: empty sdp", ErrMalformedPayload)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("%w: got %s, want %s", ErrMalformedPayload, desc.Type, want)
	}
	return desc, nil
}

// EncodeCandidate serializes a gathered local candidate.
func EncodeCandidate(c webrtc.ICECandidateInit) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode candidate: %w", err)
	}
	return string(data), nil
}

// DecodeCandidate parses a serialized ICE candidate.
func DecodeCandidate(data string) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return c, fmt.Errorf("%w: candidate: %v", ErrMalformedPayload, err)
	}
	if c.Candidate == "" {
		return c, fmt.Errorf("%w: empty candidate", ErrMalformedPayload)
	}
	return c, nil
}
