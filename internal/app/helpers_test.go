package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/rencire/free-games-claimer/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryPersister struct {
	mu      sync.Mutex
	data    map[string][]domain.ClaimRecord
	loads   int
	saves   int
	saveErr error
}

func newMemoryPersister() *memoryPersister {
	return &memoryPersister{data: map[string][]domain.ClaimRecord{}}
}

func (p *memoryPersister) Load(ctx context.Context, namespace string) ([]domain.ClaimRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	return append([]domain.ClaimRecord(nil), p.data[namespace]...), nil
}

func (p *memoryPersister) Save(ctx context.Context, namespace string, records []domain.ClaimRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}
	p.data[namespace] = append([]domain.ClaimRecord(nil), records...)
	return nil
}

type shotsStub struct {
	mu        sync.Mutex
	persisted []string
}

func (s *shotsStub) Path(parts ...string) string {
	return "shots/" + strings.Join(parts, "/") + ".png"
}

func (s *shotsStub) Persist(ctx context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, path)
}

type notifierStub struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
	err    error
}

func (n *notifierStub) Notify(ctx context.Context, event domain.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *notifierStub) Events() []domain.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.NotificationEvent(nil), n.events...)
}
