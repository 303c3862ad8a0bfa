package signaling

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDescriptionRoundTrip(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}

	data, err := EncodeDescription(offer)
	if err != nil {
		t.Fatalf("EncodeDescription failed: %v", err)
	}

	got, err := DecodeDescription(data, webrtc.SDPTypeOffer)
	if err != nil {
		t.Fatalf("DecodeDescription failed: %v", err)
	}
	if got.SDP != offer.SDP {
		t.Errorf("SDP mismatch: got %q, want %q", got.SDP, offer.SDP)
	}
}

func TestDecodeDescriptionRejects(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want webrtc.SDPType
	}{
		{"not JSON", "v=0", webrtc.SDPTypeOffer},
		{"empty object", "{}", webrtc.SDPTypeOffer},
		{"missing sdp", `{"type":"offer"}`, webrtc.SDPTypeOffer},
		{"answer where offer expected", `{"type":"answer","sdp":"v=0"}`, webrtc.SDPTypeOffer},
		{"offer where answer expected", `{"type":"offer","sdp":"v=0"}`, webrtc.SDPTypeAnswer},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeDescription(tc.data, tc.want)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestCandidateRoundTrip(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	c := webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 54400 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}

	data, err := EncodeCandidate(c)
	if err != nil {
		t.Fatalf("EncodeCandidate failed: %v", err)
	}

	got, err := DecodeCandidate(data)
	if err != nil {
		t.Fatalf("DecodeCandidate failed: %v", err)
	}
	if got.Candidate != c.Candidate {
		t.Errorf("candidate mismatch: got %q, want %q", got.Candidate, c.Candidate)
	}
	if got.SDPMid == nil || *got.SDPMid != mid {
		t.Errorf("sdpMid not preserved: %v", got.SDPMid)
	}
}

func TestDecodeCandidateRejects(t *testing.T) {
	for _, data := range []string{"", "garbage", "{}", `{"candidate":""}`} {
		if _, err := DecodeCandidate(data); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("DecodeCandidate(%q): expected ErrMalformedPayload, got %v", data, err)
		}
	}
}

func TestTypeClassification(t *testing.T) {
	testCases := []struct {
		typ        Type
		valid      bool
		terminates bool
	}{
		{TypeOffer, true, false},
		{TypeAnswer, true, false},
		{TypeCandidate, true, false},
		{TypeChat, true, false},
		{TypeHangup, true, true},
		{TypeBusy, true, true},
		{TypeReject, true, true},
		{Type("RING"), false, false},
		{Type("offer"), false, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.typ), func(t *testing.T) {
			if got := tc.typ.Valid(); got != tc.valid {
				t.Errorf("Valid() = %v, want %v", got, tc.valid)
			}
			if got := tc.typ.Terminates(); got != tc.terminates {
				t.Errorf("Terminates() = %v, want %v", got, tc.terminates)
			}
		})
	}
}
