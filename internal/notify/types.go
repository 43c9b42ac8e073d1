package notify

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Message is one operator notification.
type Message struct {
	Task    string
	Outcome string // "ok", "warn", "fail", "error"
	Title   string
	Body    string
	At      time.Time
}

type HistoryItem struct {
	At    time.Time
	Title string
}
