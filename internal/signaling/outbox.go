package signaling

import (
	"context"
	"time"

	"github.com/sajacaros/conference-chat/internal/util"
)

const (
	outboxSize  = 64               // queued outbound signals
	sendTimeout = 10 * time.Second // per-delivery deadline
)

// Transmitter delivers one signal. HTTPSender satisfies it.
type Transmitter interface {
	Send(ctx context.Context, msg Message) error
}

// Outbox is a single-writer goroutine that delivers signals in the order
// they were posted. Delivery is best-effort: failures are logged and counted,
// never retried.
type Outbox struct {
	tx    Transmitter
	inbox chan Message
	ctx   context.Context
	done  chan struct{}
}

// NewOutbox starts the delivery loop. It exits when ctx is cancelled.
func NewOutbox(ctx context.Context, tx Transmitter) *Outbox {
	o := &Outbox{
		tx:    tx,
		inbox: make(chan Message, outboxSize),
		ctx:   ctx,
		done:  make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *Outbox) loop() {
	defer close(o.done)
	for {
		select {
		case msg := <-o.inbox:
			ctx, cancel := context.WithTimeout(o.ctx, sendTimeout)
			err := o.tx.Send(ctx, msg)
			cancel()
			if err != nil {
				util.Stats.AddSendFailure()
				log.Warnf("failed to send %s to %s: %v", msg.Type, msg.Target, err)
				continue
			}
			util.Stats.AddOut()
			log.Debugf("sent %s to %s", msg.Type, msg.Target)
		case <-o.ctx.Done():
			return
		}
	}
}

// Post enqueues a signal for target without blocking. When the queue is
// full the signal is dropped and counted as a send failure. It returns
// silently once the outbox is shut down.
func (o *Outbox) Post(target string, typ Type, data string) {
	if target == "" || o.ctx.Err() != nil {
		return
	}
	select {
	case o.inbox <- Message{Target: target, Type: typ, Data: data}:
	default:
		util.Stats.AddSendFailure()
		log.Warnf("outbox full, dropping %s to %s", typ, target)
	}
}

// Done is closed when the delivery loop has exited.
func (o *Outbox) Done() <-chan struct{} { return o.done }
