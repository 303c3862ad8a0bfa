package media

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type fakeRemote struct {
	id   string
	kind webrtc.RTPCodecType
	mime string
	pkts chan *rtp.Packet
}

func newFakeRemote(id string, kind webrtc.RTPCodecType, mime string) *fakeRemote {
	return &fakeRemote{id: id, kind: kind, mime: mime, pkts: make(chan *rtp.Packet, 8)}
}

func (f *fakeRemote) ID() string { return f.id }
func (f *fakeRemote) Kind() webrtc.RTPCodecType { return f.kind }
func (f *fakeRemote) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: f.mime}}
}

func (f *fakeRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-f.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

type countingSink struct {
	mu     sync.Mutex
	n      int
	closed int
}

func (s *countingSink) WriteRTP(RemoteTrack, *rtp.Packet) error {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

func (s *countingSink) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func TestRemoteStreamForwardsToSink(t *testing.T) {
	sink := &countingSink{}
	rs := NewRemoteStream(sink)

	tr := newFakeRemote("remote-audio", webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus)
	rs.Add(tr)
	for i := 0; i < 3; i++ {
		tr.pkts <- &rtp.Packet{Payload: []byte{byte(i)}}
	}
	close(tr.pkts)
	rs.Wait()

	if sink.n != 3 {
		t.Errorf("sink got %d packets, want 3", sink.n)
	}

	rs.Stop()
	rs.Stop()
	if sink.closed != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closed)
	}
	if !rs.Stopped() {
		t.Error("Stopped() = false after Stop")
	}

	rs.Add(newFakeRemote("late", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8))
	if n := len(rs.Tracks()); n != 1 {
		t.Errorf("track added after Stop: have %d tracks", n)
	}
}

func TestRecorderWritesContainers(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir, "bob@example.com")
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	audio := newFakeRemote("a1", webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus)
	video := newFakeRemote("v1", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	other := newFakeRemote("h1", webrtc.RTPCodecTypeVideo, "video/H264")

	if err := rec.WriteRTP(audio, &rtp.Packet{Header: rtp.Header{Timestamp: 960}, Payload: []byte{0xfc, 0x01}}); err != nil {
		t.Fatalf("write opus: %v", err)
	}
	keyframe := &rtp.Packet{
		Header:  rtp.Header{Marker: true, Timestamp: 3000},
		Payload: []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a, 0x01, 0x00, 0x01, 0x00},
	}
	if err := rec.WriteRTP(video, keyframe); err != nil {
		t.Fatalf("write vp8: %v", err)
	}
	if err := rec.WriteRTP(other, keyframe); err == nil {
		t.Error("expected error for unsupported codec")
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	testCases := []struct {
		file  string
		magic []byte
	}{
		{"bob_example_com_a1.ogg", []byte("OggS")},
		{"bob_example_com_v1.ivf", []byte("DKIF")},
	}
	for _, tc := range testCases {
		t.Run(tc.file, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join(dir, tc.file))
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.HasPrefix(data, tc.magic) {
				t.Errorf("missing %q header", tc.magic)
			}
		})
	}

	if err := rec.WriteRTP(audio, &rtp.Packet{Payload: []byte{1}}); err == nil {
		t.Error("expected error writing after Close")
	}
}
