// Package chat keeps the in-call text messages. History is bounded and lives
// only as long as the call.
package chat

import (
	"sync"
	"time"
)

// DefaultCapacity is the history size used when NewLog is given zero.
const DefaultCapacity = 200

// Message is one chat line.
type Message struct {
	Sender string
	Text   string
	At     time.Time
}

// Log is a bounded chat history. Once full, the oldest message is
// overwritten.
type Log struct {
	mu     sync.Mutex
	buf    []Message
	head   int // index of the oldest message
	n      int
	listen func(Message)
	now    func() time.Time
}

// NewLog returns a Log holding at most capacity messages.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		buf: make([]Message, capacity),
		now: time.Now,
	}
}

// OnMessage registers fn to run after each AddMessage. Only one listener is
// kept; nil removes it.
func (l *Log) OnMessage(fn func(Message)) {
	l.mu.Lock()
	l.listen = fn
	l.mu.Unlock()
}

// AddMessage appends a message and notifies the listener.
func (l *Log) AddMessage(sender, text string) {
	l.mu.Lock()
	m := Message{Sender: sender, Text: text, At: l.now()}
	i := (l.head + l.n) % len(l.buf)
	l.buf[i] = m
	if l.n < len(l.buf) {
		l.n++
	} else {
		l.head = (l.head + 1) % len(l.buf)
	}
	fn := l.listen
	l.mu.Unlock()

	if fn != nil {
		fn(m)
	}
}

// Messages returns the history, oldest first.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, l.n)
	for i := range out {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	return out
}

// Len returns the number of stored messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Clear drops the history.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buf)
	l.head, l.n = 0, 0
}
