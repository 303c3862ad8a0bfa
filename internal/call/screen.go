package call

import (
	"context"
	"fmt"

	"github.com/sajacaros/conference-chat/internal/media"
)

// ToggleScreenShare swaps the outbound video between the camera and a
// display capture. Only the video sender is touched. Ending the capture from
// its source reverts exactly like a second toggle.
func (m *Manager) ToggleScreenShare(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	switch {
	case s == nil:
		m.mu.Unlock()
		return ErrNoSession
	case s.sharing:
		m.mu.Unlock()
		m.stopScreenShare(s, nil)
		return nil
	case s.starting:
		m.mu.Unlock()
		return ErrShareInProgress
	}
	s.starting = true
	m.mu.Unlock()

	screen, err := m.opts.Media.DisplayMedia(ctx)

	m.mu.Lock()
	s.starting = false
	if err != nil {
		m.mu.Unlock()
		log.Warnf("screen share failed: %v", err)
		return fmt.Errorf("capture display: %w", err)
	}
	video := screen.Video()
	if video != nil {
		video.OnEnded(func() {
			log.Infof("screen capture ended at source")
			m.stopScreenShare(s, screen)
		})
	}
	if s.closed || video == nil || !video.Live() {
		m.mu.Unlock()
		screen.Stop()
		if s.closed {
			return ErrNoSession
		}
		return fmt.Errorf("%w: capture has no live video", media.ErrUnavailable)
	}

	if err := s.peer.ReplaceVideoTrack(video.Local()); err != nil {
		m.mu.Unlock()
		screen.Stop()
		return err
	}
	s.screen = screen
	s.local = screen
	s.sharing = true
	m.mu.Unlock()

	log.Infof("sharing screen with %s", s.target)
	m.notifyShare(true, screen)
	return nil
}

// stopScreenShare puts the camera track back on the video sender and stops
// the capture. Both the toggle and the capture's own end call it; screen,
// when non-nil, limits it to that capture.
func (m *Manager) stopScreenShare(s *Session, screen *media.Stream) {
	m.mu.Lock()
	if s.closed || !s.sharing || (screen != nil && s.screen != screen) {
		m.mu.Unlock()
		return
	}

	var err error
	if s.camera != nil && s.camera.Video() != nil {
		err = s.peer.ReplaceVideoTrack(s.camera.Video().Local())
	}
	capture := s.screen
	s.screen = nil
	s.local = s.camera
	s.sharing = false
	camera := s.camera
	m.mu.Unlock()

	if err != nil {
		log.Warnf("restore camera track: %v", err)
	}
	capture.Stop()
	log.Infof("stopped sharing screen with %s", s.target)
	m.notifyShare(false, camera)
}

func (m *Manager) notifyShare(sharing bool, local *media.Stream) {
	if fn := m.opts.Observer.OnScreenShare; fn != nil {
		fn(sharing)
	}
	if fn := m.opts.Observer.OnLocalStream; fn != nil {
		fn(local)
	}
}
