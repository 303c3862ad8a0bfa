package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sajacaros/conference-chat/internal/signaling"
)

// Status is the state of a call record.
type Status string

const (
	StatusTrying    Status = "TRYING"
	StatusConnected Status = "CONNECTED"
	StatusEnded     Status = "ENDED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
	StatusBusy      Status = "BUSY"
)

// ErrTransition is returned for a status change the call lifecycle forbids.
var ErrTransition = errors.New("invalid call status transition")

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusCancelled, StatusRejected, StatusBusy:
		return true
	}
	return false
}

// Verify checks that a record in status s may move to next. Staying put is
// always allowed. TRYING may become CONNECTED or any final status;
// CONNECTED may only become ENDED; final statuses never change.
func (s Status) Verify(next Status) error {
	if s == next {
		return nil
	}
	ok := false
	switch s {
	case StatusTrying:
		ok = next == StatusConnected || next.Terminal()
	case StatusConnected:
		ok = next == StatusEnded
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, s, next)
	}
	return nil
}

// CallRecord is one call attempt between two users, from OFFER to its end.
type CallRecord struct {
	ID          string
	Caller      string
	Callee      string
	Status      Status
	CreatedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}

// Open reports whether the call is still trying or connected.
func (r CallRecord) Open() bool { return !r.Status.Terminal() }

func (r *CallRecord) moveTo(next Status, now time.Time) error {
	if err := r.Status.Verify(next); err != nil {
		return err
	}
	if next == r.Status {
		return nil
	}
	r.Status = next
	switch {
	case next == StatusConnected:
		r.ConnectedAt = now
	case next.Terminal():
		r.EndedAt = now
	}
	return nil
}

// CallStore keeps call records. MemoryCallStore and SQLiteCallStore
// satisfy it.
type CallStore interface {
	// Save inserts or replaces the record with r.ID.
	Save(r CallRecord) error
	// Latest returns the newest record from caller to callee.
	Latest(caller, callee string) (CallRecord, bool, error)
	// OpenCalls returns the records that are not final and involve user on
	// either side.
	OpenCalls(user string) ([]CallRecord, error)
}

// callLog derives call records from the signals the relay forwards. It
// sees every signal, delivered or not, and never blocks one: record errors
// are logged.
type callLog struct {
	mu      sync.Mutex
	store   CallStore
	metrics *metrics
	now     func() time.Time
}

func newCallLog(store CallStore, m *metrics) *callLog {
	if store == nil {
		store = NewMemoryCallStore()
	}
	return &callLog{store: store, metrics: m, now: time.Now}
}

// observe applies one signal from msg.Sender to msg.Target.
func (c *callLog) observe(msg signaling.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch msg.Type {
	case signaling.TypeOffer:
		err = c.offer(msg.Sender, msg.Target)
	case signaling.TypeAnswer:
		err = c.answer(msg.Sender, msg.Target)
	case signaling.TypeHangup, signaling.TypeBusy, signaling.TypeReject:
		err = c.hangup(msg.Sender, msg.Target, msg.Type)
	default:
		return
	}
	if err != nil {
		log.Warnf("call record for %s %s -> %s: %v", msg.Type, msg.Sender, msg.Target, err)
	}
}

// disconnect ends every open call of a user who left the relay.
func (c *callLog) disconnect(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.endOpen(user, StatusEnded, StatusEnded); err != nil {
		log.Warnf("end calls of %s: %v", user, err)
	}
}

// offer opens a record. A caller placing a new call has left its previous
// one; a callee already in a call makes the new record BUSY at once.
func (c *callLog) offer(caller, callee string) error {
	if err := c.endOpen(caller, StatusCancelled, StatusRejected); err != nil {
		return err
	}
	busy, err := c.store.OpenCalls(callee)
	if err != nil {
		return err
	}

	now := c.now()
	r := CallRecord{
		ID:        uuid.NewString(),
		Caller:    caller,
		Callee:    callee,
		Status:    StatusTrying,
		CreatedAt: now,
	}
	c.count(StatusTrying)
	if len(busy) > 0 {
		if err := r.moveTo(StatusBusy, now); err != nil {
			return err
		}
		c.count(StatusBusy)
		log.Infof("call %s -> %s recorded busy", caller, callee)
	}
	return c.store.Save(r)
}

// answer connects the newest call from callee's peer, the original caller.
func (c *callLog) answer(callee, caller string) error {
	r, ok, err := c.store.Latest(caller, callee)
	if err != nil || !ok || r.Status != StatusTrying {
		return err
	}
	return c.move(&r, StatusConnected)
}

// hangup ends the newest open call between the two users, whichever side
// placed it.
func (c *callLog) hangup(sender, peer string, typ signaling.Type) error {
	// sender placed the call.
	if r, ok, err := c.store.Latest(sender, peer); err != nil {
		return err
	} else if ok && r.Open() {
		next := StatusEnded
		if r.Status == StatusTrying {
			next = StatusCancelled
		}
		if err := c.move(&r, next); err != nil {
			return err
		}
	}

	// sender was called.
	r, ok, err := c.store.Latest(peer, sender)
	if err != nil || !ok || !r.Open() {
		return err
	}
	next := StatusEnded
	if r.Status == StatusTrying {
		next = StatusRejected
		if typ == signaling.TypeBusy {
			next = StatusBusy
		}
	}
	return c.move(&r, next)
}

// endOpen closes user's open calls. Connected calls become ENDED; calls
// still trying become asCaller or asCallee depending on user's side.
func (c *callLog) endOpen(user string, asCaller, asCallee Status) error {
	open, err := c.store.OpenCalls(user)
	if err != nil {
		return err
	}
	for i := range open {
		r := &open[i]
		next := StatusEnded
		if r.Status == StatusTrying {
			next = asCallee
			if r.Caller == user {
				next = asCaller
			}
		}
		if err := c.move(r, next); err != nil {
			return err
		}
	}
	return nil
}

func (c *callLog) move(r *CallRecord, next Status) error {
	from := r.Status
	if err := r.moveTo(next, c.now()); err != nil {
		return err
	}
	if from == next {
		return nil
	}
	if err := c.store.Save(*r); err != nil {
		return err
	}
	c.count(next)
	log.Debugf("call %s -> %s: %s -> %s", r.Caller, r.Callee, from, next)
	return nil
}

func (c *callLog) count(s Status) {
	if c.metrics != nil {
		c.metrics.calls.WithLabelValues(strings.ToLower(string(s))).Inc()
	}
}
