// Package notify is the console's user-facing notification dispatcher.
// It is passed explicitly to whatever raises operator-visible messages;
// the application root owns its lifecycle. There is no package-level
// instance and no import-time side effect.
package notify

import "sync"

// Level classifies a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is one message for the operator.
type Notification struct {
	Level   Level
	Message string
}

const queueDepth = 32

// Notifier queues notifications for the UI to drain. Pushing to a torn
// down notifier is a no-op, so late goroutines cannot panic a closed app.
type Notifier struct {
	mu    sync.Mutex
	queue chan Notification
}

// New creates a notifier. Call Init before use.
func New() *Notifier {
	return &Notifier{}
}

// Init allocates the queue. Owned by the application root.
func (n *Notifier) Init() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.queue == nil {
		n.queue = make(chan Notification, queueDepth)
	}
}

// Teardown drops the queue and any undelivered notifications.
func (n *Notifier) Teardown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = nil
}

// Push enqueues a notification. When the queue is full the oldest entry is
// dropped; the operator cares about the latest state, not a backlog.
func (n *Notifier) Push(level Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.queue == nil {
		return
	}
	for {
		select {
		case n.queue <- Notification{Level: level, Message: message}:
			return
		default:
			select {
			case <-n.queue:
			default:
			}
		}
	}
}

// Error pushes an error-level notification.
func (n *Notifier) Error(message string) { n.Push(LevelError, message) }

// Warn pushes a warn-level notification.
func (n *Notifier) Warn(message string) { n.Push(LevelWarn, message) }

// Info pushes an info-level notification.
func (n *Notifier) Info(message string) { n.Push(LevelInfo, message) }

// Drain returns all queued notifications without blocking.
func (n *Notifier) Drain() []Notification {
	n.mu.Lock()
	q := n.queue
	n.mu.Unlock()
	if q == nil {
		return nil
	}
	var out []Notification
	for {
		select {
		case msg := <-q:
			out = append(out, msg)
		default:
			return out
		}
	}
}
