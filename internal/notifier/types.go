package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Message is one notification. Recipients only matter to channels that
// address people (email); the others use their configured destination.
type Message struct {
	Key        string   `json:"key,omitempty"`
	Subject    string   `json:"subject"`
	Text       string   `json:"text"`
	Priority   int      `json:"priority"`
	Recipients []string `json:"recipients,omitempty"`
}

// Channel delivers a message to one destination kind.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	Subject string    `json:"subject"`
}

// NotificationEvent is published on the bus for notifier lifecycle events.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

const (
	TopicQueued  = "notifier.queued"
	TopicDeduped = "notifier.deduped"
	TopicDropped = "notifier.dropped"
	TopicSent    = "notifier.sent"
	TopicFailed  = "notifier.failed"
)
