package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rencire/free-games-claimer/internal/automation/fake"
	"github.com/rencire/free-games-claimer/internal/domain"
	"github.com/rencire/free-games-claimer/internal/ledger"
	"github.com/rencire/free-games-claimer/internal/redeem"
)

type lootCard struct {
	game, title, href string
}

type homeFixture struct {
	user  string
	games []string
	loot  []lootCard
	// onClaim runs when the claim button of a game card is clicked.
	onClaim func(s *fake.Surface)
}

func (h homeFixture) render(s *fake.Surface) {
	s.Add(selUserName, fake.Element{Text: h.user})
	s.Add(TabGame.selector(), fake.Element{})
	s.Add(TabInGameLoot.selector(), fake.Element{})
	s.Add(selGameList, fake.Element{})
	s.Add(selLootList, fake.Element{})

	if len(h.games) > 0 {
		cards := selGameList + " >> " + selInternalCard
		s.Add(cards, fake.Element{N: len(h.games)})
		for i, title := range h.games {
			card := fmt.Sprintf("%s >> nth=%d", cards, i)
			s.Add(card, fake.Element{})
			s.Add(card+" >> "+selCardTitle, fake.Element{Text: title})
			s.Add(card+" >> "+selClaim, fake.Element{OnClick: h.onClaim})
		}
	}

	if len(h.loot) > 0 {
		s.Add(selLootList+" >> "+selLootCard, fake.Element{N: len(h.loot)})
		cards := selLootList + " >> " + selUnclaimedLoot
		s.Add(cards, fake.Element{N: len(h.loot)})
		for i, l := range h.loot {
			card := fmt.Sprintf("%s >> nth=%d", cards, i)
			s.Add(card, fake.Element{})
			s.Add(card+" >> "+selCardGame, fake.Element{Text: l.game})
			s.Add(card+" >> "+selCardTitle, fake.Element{Text: l.title})
			s.Add(card+" >> a", fake.Element{Attrs: map[string]string{"href": l.href}})
		}
	}
}

func newHomePage(h homeFixture) *fake.Surface {
	page := fake.NewSurface()
	page.OnNavigate[URLClaim] = h.render
	return page
}

type lockStub struct {
	err      error
	acquired []string
	released int
}

func (l *lockStub) Acquire(ctx context.Context, namespace string) (ReleaseFunc, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, namespace)
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func newTestRunner(page *fake.Surface, persister ledger.Persister, notifier Notifier, shots Screenshots, lock RunLock, cfg RunnerConfig) *Runner {
	cfg.Headless = true
	cfg.Timeout = testTimeout
	cfg.LoginTimeout = testLoginTimeout
	r := NewRunner(fake.NewSession(page), persister, redeem.NewRegistry(discardLogger(), ""), notifier, shots, lock, cfg, discardLogger())
	r.Settle = 0
	return r
}

func TestRunner_ClaimsAndNotifies(t *testing.T) {
	persister := newMemoryPersister()
	notifier := &notifierStub{}
	shots := &shotsStub{}
	lock := &lockStub{}
	page := newHomePage(homeFixture{user: "Alice", games: []string{"Foo"}})

	res, err := newTestRunner(page, persister, notifier, shots, lock, RunnerConfig{}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.User != "Alice" || res.ClaimAttempts != 1 || res.Records != 1 || !res.Notified {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RunID == "" || res.FinishedAt.Before(res.StartedAt) {
		t.Fatalf("expected run id and timestamps, got %+v", res)
	}

	saved := persister.data["Alice"]
	if len(saved) != 1 || saved[0].Title != "Foo" || saved[0].Status != domain.ClaimStatusClaimed {
		t.Fatalf("expected Foo to be persisted as claimed, got %+v", saved)
	}
	events := notifier.Events()
	if len(events) != 1 || events[0].Title != "prime-gaming" {
		t.Fatalf("expected one digest notification, got %+v", events)
	}
	if len(shots.persisted) != 2 {
		t.Fatalf("expected card and list screenshots, got %v", shots.persisted)
	}
	if len(lock.acquired) != 1 || lock.acquired[0] != "Alice" || lock.released != 1 {
		t.Fatalf("expected lock for Alice to be taken and released, got %+v", lock)
	}
}

func TestRunner_SecondRunIsIdempotent(t *testing.T) {
	persister := newMemoryPersister()
	home := homeFixture{user: "Alice", games: []string{"Foo"}}

	if _, err := newTestRunner(newHomePage(home), persister, &notifierStub{}, &shotsStub{}, nil, RunnerConfig{}).Run(context.Background()); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}

	page := newHomePage(home)
	notifier := &notifierStub{}
	res, err := newTestRunner(page, persister, notifier, &shotsStub{}, nil, RunnerConfig{}).Run(context.Background())
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if res.ClaimAttempts != 0 || len(res.Entries) != 0 || res.Notified {
		t.Fatalf("expected nothing to happen, got %+v", res)
	}
	if len(notifier.Events()) != 0 {
		t.Fatalf("expected no notification, got %+v", notifier.Events())
	}
	for _, call := range page.Calls("click") {
		if strings.Contains(call, selClaim) {
			t.Fatalf("expected no claim click, got %v", page.Log())
		}
	}
}

func TestRunner_ClaimsInGameContent(t *testing.T) {
	persister := newMemoryPersister()
	page := newHomePage(homeFixture{
		user: "Alice",
		loot: []lootCard{{game: "Quake", title: "Skin Pack", href: "/loot/quake?ingress=amzn"}},
	})
	lootURL := "https://gaming.amazon.com/loot/quake?ingress=amzn"
	page.OnNavigate[lootURL] = func(s *fake.Surface) {
		s.Add(selGetLoot, fake.Element{})
		s.Add(selCodeInput, fake.Element{Value: "XYZ-1"})
	}

	res, err := newTestRunner(page, persister, &notifierStub{}, &shotsStub{}, nil, RunnerConfig{ClaimDLC: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Title != "Quake - Skin Pack" || res.Entries[0].Status != "claimed code XYZ-1" {
		t.Fatalf("unexpected entries %+v", res.Entries)
	}
	saved := persister.data["Alice"]
	if len(saved) != 1 || saved[0].Code != "XYZ-1" || saved[0].Store != domain.StoreDLC {
		t.Fatalf("unexpected ledger %+v", saved)
	}
	if got := page.Calls("navigate " + lootURL); len(got) != 1 {
		t.Fatalf("expected one visit of the content page, got %v", page.Log())
	}
}

func TestRunner_FatalErrorFlushesAndReportsFailure(t *testing.T) {
	persister := newMemoryPersister()
	notifier := &notifierStub{}
	page := fake.NewSurface()
	page.OnNavigate[URLClaim] = func(s *fake.Surface) {
		homeFixture{user: "Alice"}.render(s)
		s.Remove(selGameList)
	}

	res, err := newTestRunner(page, persister, notifier, &shotsStub{}, nil, RunnerConfig{}).Run(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "discover games") {
		t.Fatalf("expected discovery error, got %v", err)
	}
	if ExitCode(err) != ExitFailure {
		t.Fatalf("expected exit code %d, got %d", ExitFailure, ExitCode(err))
	}
	if persister.saves != 1 {
		t.Fatalf("expected ledger to be flushed once, got %d", persister.saves)
	}
	events := notifier.Events()
	if len(events) != 1 || events[0].Title != "prime-gaming failed" || !res.Notified {
		t.Fatalf("expected failure notification, got %+v", events)
	}
	if !strings.HasPrefix(events[0].Body, "prime-gaming failed: discover games") {
		t.Fatalf("unexpected failure body %q", events[0].Body)
	}
}

func TestRunner_InterruptFlushesAndDeliversDigest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persister := newMemoryPersister()
	notifier := &notifierStub{}
	page := newHomePage(homeFixture{
		user:    "Alice",
		games:   []string{"Foo", "Bar"},
		onClaim: func(*fake.Surface) { cancel() },
	})

	res, err := newTestRunner(page, persister, notifier, &shotsStub{}, nil, RunnerConfig{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ExitCode(err) != ExitInterrupted {
		t.Fatalf("expected exit code %d, got %d", ExitInterrupted, ExitCode(err))
	}
	if res.ClaimAttempts != 1 {
		t.Fatalf("expected one attempt before the interrupt, got %d", res.ClaimAttempts)
	}
	saved := persister.data["Alice"]
	if len(saved) != 1 || saved[0].Title != "Foo" {
		t.Fatalf("expected the claimed offer to be persisted, got %+v", saved)
	}
	events := notifier.Events()
	if len(events) != 1 || events[0].Title != "prime-gaming" {
		t.Fatalf("expected only the digest notification, got %+v", events)
	}
}

func TestRunner_LockHeldByAnotherRun(t *testing.T) {
	persister := newMemoryPersister()
	notifier := &notifierStub{}
	lock := &lockStub{err: fmt.Errorf("%w: Alice", domain.ErrRunInProgress)}
	page := newHomePage(homeFixture{user: "Alice", games: []string{"Foo"}})

	_, err := newTestRunner(page, persister, notifier, &shotsStub{}, lock, RunnerConfig{}).Run(context.Background())
	if !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if persister.loads != 0 || persister.saves != 0 {
		t.Fatalf("expected ledger untouched, got %d loads and %d saves", persister.loads, persister.saves)
	}
	if len(page.Calls("click "+selGameList)) != 0 {
		t.Fatalf("expected no claim, got %v", page.Log())
	}
}

func TestRunner_MembershipRequired(t *testing.T) {
	page := fake.NewSurface()
	page.OnNavigate[URLClaim] = func(s *fake.Surface) {
		homeFixture{user: "Alice"}.render(s)
		s.Add(selTryPrime, fake.Element{})
	}
	notifier := &notifierStub{}

	_, err := newTestRunner(page, newMemoryPersister(), notifier, &shotsStub{}, nil, RunnerConfig{}).Run(context.Background())
	if !errors.Is(err, domain.ErrMembershipRequired) {
		t.Fatalf("expected ErrMembershipRequired, got %v", err)
	}
	if len(notifier.Events()) != 1 {
		t.Fatalf("expected failure notification, got %+v", notifier.Events())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: ExitOK},
		{name: "interrupted", err: context.Canceled, want: ExitInterrupted},
		{name: "wrapped interrupt", err: fmt.Errorf("claim: %w", context.Canceled), want: ExitInterrupted},
		{name: "login", err: domain.ErrLoginFailed, want: ExitFailure},
		{name: "timeout", err: context.DeadlineExceeded, want: ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRunner_NamespaceMapping(t *testing.T) {
	persister := newMemoryPersister()
	lock := &lockStub{}
	page := newHomePage(homeFixture{user: "Alice", games: []string{"Foo"}})
	cfg := RunnerConfig{Namespace: func(user string) string { return "me@example.com/" + user }}

	if _, err := newTestRunner(page, persister, &notifierStub{}, &shotsStub{}, lock, cfg).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(persister.data["me@example.com/Alice"]) != 1 {
		t.Fatalf("expected ledger under the mapped namespace, got %v", persister.data)
	}
	if len(lock.acquired) != 1 || lock.acquired[0] != "me@example.com/Alice" {
		t.Fatalf("expected lock on the mapped namespace, got %v", lock.acquired)
	}
}
