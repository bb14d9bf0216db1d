package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rencire/free-games-claimer/internal/domain"
)

func TestDigest_Render(t *testing.T) {
	d := NewDigest(discardLogger())
	d.Add(domain.NotifyEntry{Title: "Foo", URL: URLClaim, Status: "claimed"})
	d.Add(domain.NotifyEntry{Title: "Bar & Baz", URL: "https://x/y", Status: `<a href="https://www.gog.com/redeem">redeemed</a> ABC on gog.com`})

	want := `prime-gaming (Alice):<br>` +
		`- <a href="https://gaming.amazon.com/home">Foo</a> claimed<br>` +
		`- <a href="https://x/y">Bar &amp; Baz</a> <a href="https://www.gog.com/redeem">redeemed</a> ABC on gog.com`
	if got := d.Render("Alice"); got != want {
		t.Fatalf("expected\n%s\ngot\n%s", want, got)
	}
}

func TestDigest_DeliverSkipsEmptyDigest(t *testing.T) {
	d := NewDigest(discardLogger())
	n := &notifierStub{}

	if d.Deliver(context.Background(), n, "run-1", "Alice") {
		t.Fatal("expected nothing to be delivered")
	}
	if len(n.Events()) != 0 {
		t.Fatalf("expected no notification, got %+v", n.Events())
	}
}

func TestDigest_Deliver(t *testing.T) {
	d := NewDigest(discardLogger())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }
	d.Add(domain.NotifyEntry{Title: "Foo", URL: URLClaim, Status: "claimed"})
	n := &notifierStub{}

	if !d.Deliver(context.Background(), n, "run-1", "Alice") {
		t.Fatal("expected delivery")
	}
	events := n.Events()
	if len(events) != 1 {
		t.Fatalf("expected one notification, got %d", len(events))
	}
	ev := events[0]
	if ev.RunID != "run-1" || ev.User != "Alice" || ev.Format != "html" || !ev.SentAt.Equal(fixed) {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !strings.HasPrefix(ev.Body, "prime-gaming (Alice):<br>") || len(ev.Entries) != 1 {
		t.Fatalf("unexpected body %q", ev.Body)
	}
}

func TestDigest_DeliverSwallowsNotifierErrors(t *testing.T) {
	d := NewDigest(discardLogger())
	d.Add(domain.NotifyEntry{Title: "Foo", Status: "claimed"})
	n := &notifierStub{err: errors.New("broker down")}

	if d.Deliver(context.Background(), n, "run-1", "Alice") {
		t.Fatal("expected failed delivery to be reported")
	}
}

func TestDigest_DeliverFailure(t *testing.T) {
	d := NewDigest(discardLogger())
	d.Add(domain.NotifyEntry{Title: "Foo", Status: "claimed"})
	n := &notifierStub{}

	d.DeliverFailure(context.Background(), n, "run-1", "Alice", errors.New("discover games: timeout\nstack"))

	events := n.Events()
	if len(events) != 1 {
		t.Fatalf("expected one notification, got %d", len(events))
	}
	if !strings.HasPrefix(events[0].Body, "prime-gaming failed: discover games: timeout<br>prime-gaming (Alice):<br>") {
		t.Fatalf("unexpected body %q", events[0].Body)
	}
}

func TestMultiNotifier_JoinsErrors(t *testing.T) {
	ok := &notifierStub{}
	failing := &notifierStub{err: errors.New("webhook 500")}
	m := MultiNotifier{failing, nil, ok}

	err := m.Notify(context.Background(), domain.NotificationEvent{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "webhook 500") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.Events()) != 1 {
		t.Fatal("expected remaining notifiers to still be called")
	}
}
