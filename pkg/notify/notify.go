package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Status string

const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Notifier surfaces order and transaction status transitions to the
// user. Notifications are keyed so a transition replaces the loading
// notice for the same transaction.
type Notifier interface {
	Loading(id, message string)
	Success(id, message string)
	Failure(id, message string)
}

// Notification is one user-visible status entry.
type Notification struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Center records notifications in memory so the API can expose them
// until acknowledged, and mirrors each transition to the log.
type Center struct {
	logger *logrus.Logger
	mu     sync.Mutex
	items  map[string]Notification
}

func NewCenter(logger *logrus.Logger) *Center {
	return &Center{
		logger: logger,
		items:  make(map[string]Notification),
	}
}

func (c *Center) Loading(id, message string) {
	c.set(id, StatusLoading, message)
	c.logger.WithField("tx_id", id).Info(message)
}

func (c *Center) Success(id, message string) {
	c.set(id, StatusSuccess, message)
	c.logger.WithField("tx_id", id).Info(message)
}

func (c *Center) Failure(id, message string) {
	c.set(id, StatusFailure, message)
	c.logger.WithField("tx_id", id).Warn(message)
}

func (c *Center) set(id string, status Status, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = Notification{
		ID:        id,
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now(),
	}
}

// List returns the current notifications, unordered.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Notification, 0, len(c.items))
	for _, n := range c.items {
		out = append(out, n)
	}
	return out
}

// Acknowledge drops a notification once the user has seen it.
func (c *Center) Acknowledge(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}
