// Package app wires the client together: the relay session, the signal
// router, the call manager, intent persistence and the chat log.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sajacaros/conference-chat/internal/call"
	"github.com/sajacaros/conference-chat/internal/chat"
	"github.com/sajacaros/conference-chat/internal/config"
	"github.com/sajacaros/conference-chat/internal/intent"
	"github.com/sajacaros/conference-chat/internal/media"
	"github.com/sajacaros/conference-chat/internal/media/capture"
	"github.com/sajacaros/conference-chat/internal/router"
	"github.com/sajacaros/conference-chat/internal/signaling"
	"github.com/sajacaros/conference-chat/internal/transport"
	"github.com/sajacaros/conference-chat/internal/util"
)

var log = util.Scope("app")

// ErrNoCall is returned by operations that need an active call.
var ErrNoCall = errors.New("not in a call")

// Events are what the user interface hears about. Nil callbacks are
// skipped. They run on internal goroutines and must not block for long.
type Events struct {
	OnUsers             func([]signaling.User)
	OnIncoming          func(router.IncomingCall)
	OnIncomingCancelled func(sender string)
	OnState             func(call.State)
	OnScreenShare       func(sharing bool)
	OnHangup            func(target string)
	OnChat              func(chat.Message)
	OnDisconnect        func(err error)
}

// App is one logged-in client.
type App struct {
	cfg    *config.Config
	events Events
	id     signaling.Identity
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	store      intent.Store
	closeStore func() error
	chat       *chat.Log
	outbox     *signaling.Outbox
	calls      *call.Manager
	router     *router.Router
	channel    *signaling.Channel

	mu    sync.Mutex
	users []signaling.User
}

// New logs in, opens the event stream and resumes any stored call intent.
// The App lives until Close or until ctx is cancelled.
func New(ctx context.Context, cfg *config.Config, ev Events) (*App, error) {
	src, err := sourceFor(cfg.Media)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, ev, src)
}

func newApp(ctx context.Context, cfg *config.Config, ev Events, src media.Source) (*App, error) {
	a := &App{
		cfg:    cfg,
		events: ev,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.build(src); err != nil {
		a.cancel()
		if a.closeStore != nil {
			a.closeStore()
		}
		return nil, err
	}

	if _, err := a.ResumeIntent(a.ctx); err != nil {
		log.Warnf("%v", err)
	}
	return a, nil
}

func (a *App) build(src media.Source) error {
	cfg := a.cfg

	// ── 1. Identity ────────────────────────────────────────────────────
	a.id = signaling.Identity{Email: cfg.Email, Token: cfg.Token}
	if a.id.Token == "" {
		id, err := signaling.Login(a.ctx, cfg.Server, signaling.LoginRequest{
			Email:    cfg.Email,
			Username: cfg.Username,
		}, a.client)
		if err != nil {
			return err
		}
		a.id = id
	}

	// ── 2. Intent store and chat log ───────────────────────────────────
	if err := a.openStore(); err != nil {
		return err
	}
	a.chat = chat.NewLog(0)
	a.chat.OnMessage(a.events.OnChat)

	// ── 3. Outbound signals ────────────────────────────────────────────
	sender := signaling.NewHTTPSender(cfg.Server, a.id, a.client)
	a.outbox = signaling.NewOutbox(a.ctx, sender)

	// ── 4. Call manager ────────────────────────────────────────────────
	tcfg := transport.Config{
		STUNServers:         cfg.ICE.STUNServers,
		DisconnectedTimeout: cfg.ICE.DisconnectedTimeout,
		FailedTimeout:       cfg.ICE.FailedTimeout,
		KeepAliveInterval:   cfg.ICE.KeepAliveInterval,
		PLIInterval:         cfg.ICE.PLIInterval,
	}
	api, err := transport.NewAPI(tcfg)
	if err != nil {
		return err
	}
	a.calls, err = call.NewManager(call.Options{
		Peers:   call.TransportPeers(api, tcfg),
		Media:   src,
		Signals: a.outbox,
		Sink:    a.sinkFor(),
		Observer: call.Observer{
			OnState:       a.events.OnState,
			OnScreenShare: a.events.OnScreenShare,
			OnRemoteTrack: func(t media.RemoteTrack) {
				log.Infof("receiving %s (%s)", t.Kind(), t.Codec().MimeType)
			},
			OnPeerState: func(s webrtc.PeerConnectionState) {
				log.Debugf("peer connection %s", s)
			},
			OnHangup: a.onHangup,
		},
	})
	if err != nil {
		return err
	}

	// ── 5. Router ──────────────────────────────────────────────────────
	a.router, err = router.New(router.Options{
		Calls:   a.calls,
		Chat:    a.chat,
		Signals: a.outbox,
		Intents: a.store,
		Presenter: router.Presenter{
			OnIncoming:          a.events.OnIncoming,
			OnIncomingCancelled: a.events.OnIncomingCancelled,
		},
	})
	if err != nil {
		return err
	}

	// ── 6. Event stream ────────────────────────────────────────────────
	a.channel = signaling.NewChannel(cfg.Server, signaling.StreamKind(cfg.Stream), nil, signaling.Handlers{
		OnConnect: func() { log.Infof("connected to %s as %s", cfg.Server, a.id.Email) },
		OnUserList: func(users []signaling.User) {
			a.mu.Lock()
			a.users = users
			a.mu.Unlock()
			if fn := a.events.OnUsers; fn != nil {
				fn(users)
			}
		},
		OnSignal: func(msg signaling.Message) {
			a.router.Route(a.ctx, msg)
		},
		OnDisconnect: a.events.OnDisconnect,
	})
	if err := a.channel.Connect(a.ctx, a.id); err != nil {
		return err
	}

	util.StartStatsReporter(a.ctx, cfg.StatsInterval)
	return nil
}

func (a *App) openStore() error {
	switch a.cfg.Intent.Store {
	case config.StoreSQLite:
		db, err := intent.OpenSQLite(a.cfg.Intent.Path)
		if err != nil {
			return err
		}
		a.store = db
		a.closeStore = db.Close
	default:
		a.store = intent.NewMemoryStore()
	}
	return nil
}

// sinkFor records each call's remote media when a recording directory is
// configured.
func (a *App) sinkFor() func(target string) (media.Sink, error) {
	dir := a.cfg.Record.Dir
	if dir == "" {
		return nil
	}
	return func(target string) (media.Sink, error) {
		prefix := fmt.Sprintf("%s_%s", target, time.Now().Format("20060102-150405"))
		return media.NewRecorder(dir, prefix)
	}
}

func sourceFor(cfg config.MediaConfig) (media.Source, error) {
	switch cfg.Source {
	case config.SourceFile:
		return media.FileSource{Video: cfg.Video, Audio: cfg.Audio, Screen: cfg.Screen}, nil
	case config.SourceDevice:
		if !capture.Available {
			log.Warnf("device capture is not built in, calls will fail to start")
		}
		src, err := capture.New()
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return media.SyntheticSource{}, nil
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Call records the intent to call target and starts the call. A pending
// incoming call is rejected first.
func (a *App) Call(ctx context.Context, target string) error {
	if target == "" || target == a.id.Email {
		return fmt.Errorf("cannot call %q", target)
	}
	if _, ok := a.router.Pending(); ok {
		a.router.Reject(ctx)
	}
	if err := intent.SaveOutgoing(a.store, target); err != nil {
		return err
	}
	_, err := a.ResumeIntent(ctx)
	return err
}

// ResumeIntent starts or accepts the call described by the stored intent.
// It reports false when no intent is stored. A call that fails to start
// clears the intent.
func (a *App) ResumeIntent(ctx context.Context) (bool, error) {
	in, err := intent.Load(a.store)
	if errors.Is(err, intent.ErrNoIntent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if in.Initiator {
		err = a.calls.StartCall(ctx, in.Target)
	} else {
		err = a.calls.AcceptCall(ctx, in.Target, in.Offer, in.Candidates...)
	}
	return true, a.started(in.Target, err)
}

// Accept answers the pending incoming call.
func (a *App) Accept(ctx context.Context) error {
	call, ok := a.router.Pending()
	if !ok {
		return router.ErrNoPendingCall
	}
	return a.started(call.Sender, a.router.Accept(ctx))
}

// started reports the outcome of a start or accept. An attempt replaced by
// a newer one or cancelled by a hangup leaves the intent to its successor.
func (a *App) started(target string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, call.ErrSuperseded), errors.Is(err, call.ErrCancelled):
		return err
	}
	log.Errorf("call with %s failed to start: %v", target, err)
	a.clearIntent()
	return fmt.Errorf("call failed to start: %w", err)
}

// Reject declines the pending incoming call.
func (a *App) Reject(ctx context.Context) error {
	return a.router.Reject(ctx)
}

// Hangup ends the current call, if any.
func (a *App) Hangup() {
	a.calls.Hangup(a.calls.Target())
	a.clearIntent()
}

// ToggleScreenShare switches the outbound video between camera and screen.
func (a *App) ToggleScreenShare(ctx context.Context) error {
	return a.calls.ToggleScreenShare(ctx)
}

// SendChat sends text to the peer of the current call.
func (a *App) SendChat(text string) error {
	target := a.calls.Target()
	if target == "" {
		return ErrNoCall
	}
	a.outbox.Post(target, signaling.TypeChat, text)
	a.chat.AddMessage(a.id.Email, text)
	return nil
}

func (a *App) onHangup(target string) {
	a.clearIntent()
	a.chat.Clear()
	if fn := a.events.OnHangup; fn != nil {
		fn(target)
	}
}

func (a *App) clearIntent() {
	if err := intent.Clear(a.store); err != nil {
		log.Warnf("%v", err)
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Identity returns who this client is logged in as.
func (a *App) Identity() signaling.Identity { return a.id }

// Users returns the last user_list, including this client.
func (a *App) Users() []signaling.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]signaling.User(nil), a.users...)
}

// Calls exposes the call manager for read access.
func (a *App) Calls() *call.Manager { return a.calls }

// Pending returns the incoming call waiting for an answer.
func (a *App) Pending() (router.IncomingCall, bool) { return a.router.Pending() }

// Chat returns the chat history of the current call.
func (a *App) Chat() []chat.Message { return a.chat.Messages() }

// Close hangs up, closes the event stream and logs out.
func (a *App) Close() error {
	a.calls.Hangup(a.calls.Target())
	a.channel.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := signaling.Logout(ctx, a.cfg.Server, a.id, a.client); err != nil {
		log.Debugf("%v", err)
	}

	a.cancel()
	<-a.outbox.Done()
	if a.closeStore != nil {
		return a.closeStore()
	}
	return nil
}
