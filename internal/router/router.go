// Package router classifies inbound signals and hands each one to exactly
// one consumer: the chat log, the incoming-call slot or the call manager.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/sajacaros/conference-chat/internal/intent"
	"github.com/sajacaros/conference-chat/internal/signaling"
	"github.com/sajacaros/conference-chat/internal/util"
)

var log = util.Scope("router")

// ErrNoPendingCall is returned by Accept and Reject when no offer waits.
var ErrNoPendingCall = errors.New("no pending incoming call")

// Calls is the part of the call manager the router drives.
// *call.Manager satisfies it.
type Calls interface {
	Busy() bool
	AcceptCall(ctx context.Context, sender, offer string, buffered ...string) error
	HandleSignal(sender string, typ signaling.Type, data string)
}

// Chat receives CHAT text.
type Chat interface {
	AddMessage(sender, text string)
}

// Signaler delivers outbound signals.
type Signaler interface {
	Post(target string, typ signaling.Type, data string)
}

// IncomingCall is an offer waiting for the user to accept or reject it.
type IncomingCall struct {
	Sender     string
	Offer      string
	Candidates []string
}

// Presenter is told about incoming calls. Nil callbacks are skipped.
type Presenter struct {
	OnIncoming          func(IncomingCall)
	OnIncomingCancelled func(sender string)
}

// Options configures a Router.
type Options struct {
	Calls     Calls
	Chat      Chat
	Signals   Signaler
	Intents   intent.Store
	Presenter Presenter
}

// Router holds at most one pending incoming call. The first offer wins
// until it is accepted, rejected or cancelled by its sender.
type Router struct {
	opts Options

	mu        sync.Mutex
	pending   *IncomingCall
	accepting *acceptance
}

// acceptance is an offer taken by Accept whose call is still being set up.
// Signals from its sender are held in late and handed to the call manager
// once AcceptCall returns.
type acceptance struct {
	sender string
	late   []signaling.Message
}

// New returns a Router. Calls, Signals and Intents are required.
func New(opts Options) (*Router, error) {
	switch {
	case opts.Calls == nil:
		return nil, errors.New("router: Calls is required")
	case opts.Signals == nil:
		return nil, errors.New("router: Signals is required")
	case opts.Intents == nil:
		return nil, errors.New("router: Intents is required")
	}
	return &Router{opts: opts}, nil
}

// Route dispatches one inbound signal.
func (r *Router) Route(ctx context.Context, msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeChat:
		if r.opts.Chat != nil {
			r.opts.Chat.AddMessage(msg.Sender, msg.Data)
		}

	case signaling.TypeOffer:
		r.routeOffer(msg)

	case signaling.TypeCandidate:
		if r.bufferCandidate(msg) {
			return
		}
		r.opts.Calls.HandleSignal(msg.Sender, msg.Type, msg.Data)

	case signaling.TypeAnswer:
		r.opts.Calls.HandleSignal(msg.Sender, msg.Type, msg.Data)

	case signaling.TypeHangup, signaling.TypeBusy, signaling.TypeReject:
		r.opts.Calls.HandleSignal(msg.Sender, msg.Type, msg.Data)
		r.cancel(msg)

	default:
		util.Stats.AddDropped()
		log.Warnf("unknown signal type %q from %s", msg.Type, msg.Sender)
	}
}

func (r *Router) routeOffer(msg signaling.Message) {
	if _, err := signaling.DecodeDescription(msg.Data, webrtc.SDPTypeOffer); err != nil {
		util.Stats.AddDropped()
		log.Warnf("OFFER from %s dropped: %v", msg.Sender, err)
		return
	}

	r.mu.Lock()
	if r.opts.Calls.Busy() || r.pending != nil || r.accepting != nil {
		r.mu.Unlock()
		log.Infof("OFFER from %s while busy, answering BUSY", msg.Sender)
		r.opts.Signals.Post(msg.Sender, signaling.TypeBusy, signaling.EmptyData)
		return
	}
	r.pending = &IncomingCall{Sender: msg.Sender, Offer: msg.Data}
	call := *r.pending
	r.mu.Unlock()

	log.Infof("incoming call from %s", msg.Sender)
	if fn := r.opts.Presenter.OnIncoming; fn != nil {
		fn(call)
	}
}

// bufferCandidate keeps a candidate for the pending or accepting offer's
// sender. It reports whether the candidate was taken.
func (r *Router) bufferCandidate(msg signaling.Message) bool {
	r.mu.Lock()
	if r.holdLocked(msg) {
		r.mu.Unlock()
		log.Debugf("holding candidate from %s until the call is set up", msg.Sender)
		return true
	}
	if r.pending == nil || r.pending.Sender != msg.Sender {
		r.mu.Unlock()
		return false
	}
	r.pending.Candidates = append(r.pending.Candidates, msg.Data)
	n := len(r.pending.Candidates)
	r.mu.Unlock()

	log.Debugf("buffered candidate %d for pending call from %s", n, msg.Sender)
	// A live call owns the stored intent; only persist for a free client.
	if !r.opts.Calls.Busy() {
		if err := intent.AppendCandidate(r.opts.Intents, msg.Data); err != nil {
			log.Warnf("persist candidate from %s: %v", msg.Sender, err)
		}
	}
	return true
}

// holdLocked queues msg on the acceptance in progress with its sender.
func (r *Router) holdLocked(msg signaling.Message) bool {
	a := r.accepting
	if a == nil || a.sender != msg.Sender {
		return false
	}
	a.late = append(a.late, msg)
	return true
}

func (r *Router) cancel(msg signaling.Message) {
	sender, typ := msg.Sender, msg.Type
	r.mu.Lock()
	// The manager may not hold the build yet; replay once it does.
	if r.holdLocked(msg) {
		r.mu.Unlock()
		return
	}
	if r.pending == nil || r.pending.Sender != sender {
		r.mu.Unlock()
		return
	}
	r.pending = nil
	r.mu.Unlock()

	log.Infof("incoming call from %s cancelled (%s)", sender, typ)
	r.clearIntent()
	if fn := r.opts.Presenter.OnIncomingCancelled; fn != nil {
		fn(sender)
	}
}

// Pending returns the waiting incoming call, if any.
func (r *Router) Pending() (IncomingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return IncomingCall{}, false
	}
	call := *r.pending
	call.Candidates = append([]string(nil), r.pending.Candidates...)
	return call, true
}

// Accept takes the pending offer, records the receiver intent and answers
// it with every candidate buffered so far. Signals its sender sends while
// the call is being set up are delivered after AcceptCall returns.
func (r *Router) Accept(ctx context.Context) error {
	call, err := r.take(true)
	if err != nil {
		return err
	}
	defer r.settle()

	if err := intent.SaveIncoming(r.opts.Intents, call.Sender, call.Offer, call.Candidates); err != nil {
		log.Warnf("%v", err)
	}
	log.Infof("accepting call from %s", call.Sender)
	if err := r.opts.Calls.AcceptCall(ctx, call.Sender, call.Offer, call.Candidates...); err != nil {
		return fmt.Errorf("accept call from %s: %w", call.Sender, err)
	}
	return nil
}

// settle hands the held signals to the call manager in arrival order and
// ends the acceptance. Signals arriving during the hand-over are held and
// delivered in the same pass.
func (r *Router) settle() {
	for {
		r.mu.Lock()
		a := r.accepting
		if a == nil || len(a.late) == 0 {
			r.accepting = nil
			r.mu.Unlock()
			return
		}
		late := a.late
		a.late = nil
		r.mu.Unlock()

		for _, msg := range late {
			r.opts.Calls.HandleSignal(msg.Sender, msg.Type, msg.Data)
		}
	}
}

// Reject declines the pending offer.
func (r *Router) Reject(ctx context.Context) error {
	call, err := r.take(false)
	if err != nil {
		return err
	}
	log.Infof("rejecting call from %s", call.Sender)
	r.opts.Signals.Post(call.Sender, signaling.TypeReject, signaling.EmptyData)
	r.clearIntent()
	return nil
}

func (r *Router) take(accepting bool) (IncomingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return IncomingCall{}, ErrNoPendingCall
	}
	call := *r.pending
	r.pending = nil
	if accepting {
		r.accepting = &acceptance{sender: call.Sender}
	}
	return call, nil
}

func (r *Router) clearIntent() {
	if r.opts.Calls.Busy() {
		return
	}
	if err := intent.Clear(r.opts.Intents); err != nil {
		log.Warnf("%v", err)
	}
}
