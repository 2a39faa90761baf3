// Package notify implements a small in-process notification hub. Components
// publish user-facing events (session expiry, server failures, optimistic
// rollbacks) and the UI layer consumes them as transient toasts.
//
// Publishing never blocks: when the buffer is full the oldest notification is
// dropped, since a toast queue that backs up faster than a user can read is
// already useless.
package notify

import (
	"sync"
	"time"
)

// Level classifies a notification for presentation purposes.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Well-known notification codes surfaced by the data layer.
const (
	CodeSessionExpired = "session_expired"
	CodeServerError    = "server_error"
	CodeLoginRequired  = "login_required"
	CodeCouponInvalid  = "coupon_invalid"
	CodeToggleFailed   = "favorite_toggle_failed"
)

// Notification is one user-facing event.
type Notification struct {
	Level   Level
	Code    string
	Message string
	At      time.Time
}

// Hub is a bounded, drop-oldest notification queue safe for concurrent use.
type Hub struct {
	mu sync.Mutex
	ch chan Notification
}

// NewHub constructs a Hub with the given buffer size. Sizes < 1 default to 16.
func NewHub(size int) *Hub {
	if size < 1 {
		size = 16
	}
	return &Hub{ch: make(chan Notification, size)}
}

// Publish enqueues a notification, evicting the oldest one when full.
func (h *Hub) Publish(level Level, code, message string) {
	n := Notification{Level: level, Code: code, Message: message, At: time.Now()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		select {
		case h.ch <- n:
			return
		default:
			select {
			case <-h.ch: // evict oldest, then retry
			default:
			}
		}
	}
}

// C returns the consumption channel. The hub supports a single consumer; a
// UI loop ranges over this channel and renders toasts.
func (h *Hub) C() <-chan Notification { return h.ch }

// Drain removes and returns all currently queued notifications. Mostly a
// test convenience.
func (h *Hub) Drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-h.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}
