// Package notify manages the single visible console notification.
// Every outcome is shown for a fixed window and then auto-cleared; a
// new outcome overwrites whatever is currently displayed.
package notify

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Outcome classifies a notification.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeInfo    Outcome = "info"
)

// Notification is one displayed outcome.
type Notification struct {
	ID        string    `json:"id"`
	Outcome   Outcome   `json:"outcome"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Center holds at most one visible notification and fans out changes.
// A nil value delivered to subscribers means the display was cleared.
type Center struct {
	mu          sync.Mutex
	ttl         time.Duration
	current     *Notification
	expiry      *time.Timer
	subscribers map[chan *Notification]struct{}
	entropy     *rand.Rand
	closed      bool
}

// NewCenter creates a notification center with the given display window.
func NewCenter(ttl time.Duration) *Center {
	return &Center{
		ttl:         ttl,
		subscribers: make(map[chan *Notification]struct{}),
		entropy:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Show replaces the displayed notification and restarts the expiry
// timer. Returns the new notification.
func (c *Center) Show(outcome Outcome, message, detail string) Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Notification{}
	}

	now := time.Now()
	n := Notification{
		ID:        ulid.MustNew(ulid.Timestamp(now), c.entropy).String(),
		Outcome:   outcome,
		Message:   message,
		Detail:    detail,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.current = &n

	if c.expiry != nil {
		c.expiry.Stop()
	}
	id := n.ID
	c.expiry = time.AfterFunc(c.ttl, func() { c.expire(id) })

	c.broadcast(&n)
	return n
}

// expire clears the display only if the notification it was armed for
// is still the one shown.
func (c *Center) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.current == nil || c.current.ID != id {
		return
	}
	c.current = nil
	c.broadcast(nil)
}

// Dismiss clears the display early.
func (c *Center) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.current == nil {
		return
	}
	c.current = nil
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	c.broadcast(nil)
}

// Current returns the displayed notification, or nil.
func (c *Center) Current() *Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	n := *c.current
	return &n
}

// Subscribe registers a change channel. Deliveries are non-blocking;
// slow subscribers miss intermediate states, never the lock.
func (c *Center) Subscribe() chan *Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan *Notification, 16)
	if !c.closed {
		c.subscribers[ch] = struct{}{}
	}
	return ch
}

// Unsubscribe removes and closes a change channel.
func (c *Center) Unsubscribe(ch chan *Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[ch]; ok {
		delete(c.subscribers, ch)
		close(ch)
	}
}

// Close releases the expiry timer and all subscriber channels.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.current = nil
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	for ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
}

func (c *Center) broadcast(n *Notification) {
	for ch := range c.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}
