package domain

import "time"

// NotifyEntry is one line of the run digest.
type NotifyEntry struct {
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
	Status string `json:"status"`
}

// NotificationEvent is the payload published to message brokers and webhooks.
type NotificationEvent struct {
	RunID   string        `json:"run_id,omitempty"`
	User    string        `json:"user,omitempty"`
	Title   string        `json:"title"`
	Body    string        `json:"body"`
	Format  string        `json:"format"`
	Entries []NotifyEntry `json:"entries,omitempty"`
	SentAt  time.Time     `json:"sent_at"`
}
