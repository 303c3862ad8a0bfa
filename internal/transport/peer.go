package transport

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used when the configuration names none. No TURN:
// calls are direct peer-to-peer.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config tunes every peer connection created from one API.
type Config struct {
	STUNServers []string

	// ICE timeouts. Any zero field takes pion's default for that field.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// PLIInterval asks remote senders for a keyframe this often. Zero disables.
	PLIInterval time.Duration
}

// NewAPI builds a pion API with the default codecs and interceptors, plus
// periodic PLI so a late-joining decoder recovers quickly.
func NewAPI(cfg Config) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	if cfg.PLIInterval > 0 {
		pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(cfg.PLIInterval))
		if err != nil {
			return nil, fmt.Errorf("pli interceptor: %w", err)
		}
		registry.Add(pli)
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 || cfg.FailedTimeout > 0 || cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(
			orDefault(cfg.DisconnectedTimeout, 5*time.Second),
			orDefault(cfg.FailedTimeout, 25*time.Second),
			orDefault(cfg.KeepAliveInterval, 2*time.Second),
		)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// configuration returns the PeerConnection configuration for cfg.
func (cfg Config) configuration() webrtc.Configuration {
	urls := cfg.STUNServers
	if urls == nil {
		urls = DefaultSTUNServers
	}
	if len(urls) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
