/**
 * @description
 * Playwright binding of the automation surface. A session is a persistent Firefox
 * context so cookies and the sign-in survive between runs. Every wait, and every
 * element action before it reaches the driver, polls and returns as soon as its
 * context is done, so the losers of a race stop once the winner is known. Driver
 * calls themselves are bounded by the session timeout and the context deadline.
 */
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/rencire/free-games-claimer/internal/automation"
)

const pollInterval = 250 * time.Millisecond

// Options configure the browser session.
type Options struct {
	ProfileDir string
	Headless   bool
	Width      int
	Height     int
	Timeout    time.Duration
	// Install downloads the browser binaries before launching.
	Install bool
}

// Session is a persistent browser context.
type Session struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	main    *Surface
	logger  *slog.Logger

	mu      sync.RWMutex
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

var _ automation.Session = (*Session)(nil)

// Launch starts playwright and opens the persistent Firefox profile in opts.ProfileDir.
func Launch(opts Options, logger *slog.Logger) (*Session, error) {
	if opts.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"firefox"}}); err != nil {
			return nil, fmt.Errorf("install browser: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	bctx, err := pw.Firefox.LaunchPersistentContext(opts.ProfileDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Viewport: &playwright.Size{Width: opts.Width, Height: opts.Height},
		Locale:   playwright.String("en-US"),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch firefox with profile %s: %w", opts.ProfileDir, err)
	}

	s := &Session{pw: pw, context: bctx, logger: logger}
	s.SetDefaultTimeout(opts.Timeout)

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	s.main = &Surface{page: page, session: s}
	logger.Info("browser launched", "profile", opts.ProfileDir, "headless", opts.Headless)
	return s, nil
}

func (s *Session) Surface() automation.Surface { return s.main }

func (s *Session) NewSurface(ctx context.Context) (automation.Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &Surface{page: page, session: s}, nil
}

// SetDefaultTimeout bounds every wait of every page of the session.
func (s *Session) SetDefaultTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
	s.context.SetDefaultTimeout(float64(d.Milliseconds()))
}

func (s *Session) defaultTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.timeout <= 0 {
		return 30 * time.Second
	}
	return s.timeout
}

// Close closes the browser and stops playwright. Pending calls fail once it returns.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// actionTimeout bounds one driver call by the session timeout and the ctx deadline.
func (s *Session) actionTimeout(ctx context.Context) *float64 {
	d := s.defaultTimeout()
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = max(left, time.Millisecond)
		}
	}
	return playwright.Float(float64(d.Milliseconds()))
}

// poll calls check until it reports true, the session timeout elapses or ctx is done.
func (s *Session) poll(ctx context.Context, what string, check func() (bool, error)) error {
	deadline := time.NewTimer(s.defaultTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := check()
		if err != nil {
			return mapError(err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%s: %w", what, automation.ErrTimeout)
		case <-ticker.C:
		}
	}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", automation.ErrTimeout, err)
	}
	return err
}
