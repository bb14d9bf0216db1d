/**
 * @description
 * The digest collects one entry per attempted offer during a run and renders the
 * summary notification. Delivery is best-effort: notifier failures are logged and
 * never change the outcome of the run.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rencire/free-games-claimer/internal/domain"
)

const digestSource = "prime-gaming"

// Notifier delivers a notification event.
type Notifier interface {
	Notify(ctx context.Context, event domain.NotificationEvent) error
}

// MultiNotifier fans an event out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event domain.NotificationEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the log. It is used when no delivery channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, event domain.NotificationEvent) error {
	n.Logger.Info("notification", "title", event.Title, "body", event.Body, "entries", len(event.Entries))
	return nil
}

// Digest accumulates notification entries for one run.
type Digest struct {
	mu      sync.Mutex
	entries []domain.NotifyEntry
	logger  *slog.Logger
	now     func() time.Time
}

func NewDigest(logger *slog.Logger) *Digest {
	return &Digest{logger: logger, now: time.Now}
}

// Add appends the entry of an attempted offer.
func (d *Digest) Add(entry domain.NotifyEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
}

func (d *Digest) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Entries returns a copy of the entries in insertion order.
func (d *Digest) Entries() []domain.NotifyEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.NotifyEntry(nil), d.entries...)
}

// Render formats the digest as the HTML body of the run notification.
func (d *Digest) Render(user string) string {
	return fmt.Sprintf("%s (%s):<br>%s", digestSource, user, renderGameList(d.Entries()))
}

func renderGameList(entries []domain.NotifyEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf(`- <a href="%s">%s</a>`, html.EscapeString(e.URL), html.EscapeString(e.Title))
		if e.Status != "" {
			line += " " + e.Status
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "<br>")
}

// Deliver sends the digest through n. Nothing is sent for an empty digest.
// It reports whether a notification was handed to n successfully.
func (d *Digest) Deliver(ctx context.Context, n Notifier, runID, user string) bool {
	if d.Len() == 0 {
		return false
	}
	return d.send(ctx, n, domain.NotificationEvent{
		RunID:   runID,
		User:    user,
		Title:   digestSource,
		Body:    d.Render(user),
		Format:  "html",
		Entries: d.Entries(),
	})
}

// DeliverFailure reports a fatal run error. Entries collected before the failure
// are appended so they are not lost.
func (d *Digest) DeliverFailure(ctx context.Context, n Notifier, runID, user string, runErr error) bool {
	body := fmt.Sprintf("%s failed: %s", digestSource, firstLine(runErr.Error()))
	if d.Len() > 0 {
		body += "<br>" + d.Render(user)
	}
	return d.send(ctx, n, domain.NotificationEvent{
		RunID:   runID,
		User:    user,
		Title:   digestSource + " failed",
		Body:    body,
		Format:  "html",
		Entries: d.Entries(),
	})
}

func (d *Digest) send(ctx context.Context, n Notifier, event domain.NotificationEvent) bool {
	if n == nil {
		return false
	}
	event.SentAt = d.now().UTC()
	if err := n.Notify(ctx, event); err != nil {
		d.logger.Error("failed to deliver notification", "title", event.Title, "error", err)
		return false
	}
	return true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
