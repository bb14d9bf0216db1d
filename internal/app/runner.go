/**
 * @description
 * The runner executes one claim pass for the signed-in user: sign in, lock the
 * user's ledger, discover offers and claim them in order. Whatever way the pass
 * ends, the ledger is flushed once, the digest is sent when offers were attempted
 * and the lock is released.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rencire/free-games-claimer/internal/automation"
	"github.com/rencire/free-games-claimer/internal/domain"
	"github.com/rencire/free-games-claimer/internal/ledger"
)

const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130

	shutdownTimeout = 30 * time.Second
)

// RunnerConfig holds the settings of a claim pass.
type RunnerConfig struct {
	Credentials   Credentials
	Headless      bool
	Timeout       time.Duration
	LoginTimeout  time.Duration
	DryRun        bool
	Redeem        bool
	ClaimDLC      bool
	RetryUnlinked bool
	// Namespace maps the signed-in user to the ledger partition. Nil uses the user name.
	Namespace func(user string) string
}

// RunResult summarizes a finished pass.
type RunResult struct {
	RunID         string               `json:"run_id"`
	User          string               `json:"user"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
	ClaimAttempts int                  `json:"claim_attempts"`
	Entries       []domain.NotifyEntry `json:"entries"`
	Records       int                  `json:"records"`
	UnlinkedDLC   map[string][]string  `json:"unlinked_dlc,omitempty"`
	Notified      bool                 `json:"notified"`
}

// Runner runs claim passes on one automation session.
type Runner struct {
	session   automation.Session
	persister ledger.Persister
	redeemer  Redeemer
	notifier  Notifier
	shots     Screenshots
	lock      RunLock
	cfg       RunnerConfig
	logger    *slog.Logger

	// Settle overrides the scroll settle delay of discovery when non-negative.
	Settle time.Duration
}

func NewRunner(
	session automation.Session,
	persister ledger.Persister,
	redeemer Redeemer,
	notifier Notifier,
	shots Screenshots,
	lock RunLock,
	cfg RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if lock == nil {
		lock = NoopLock{}
	}
	return &Runner{
		session:   session,
		persister: persister,
		redeemer:  redeemer,
		notifier:  notifier,
		shots:     shots,
		lock:      lock,
		cfg:       cfg,
		logger:    logger,
		Settle:    -1,
	}
}

// Run executes one claim pass. Cancelling ctx interrupts the pass; the ledger is
// still flushed and the digest still delivered.
func (r *Runner) Run(ctx context.Context) (res RunResult, err error) {
	res = RunResult{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	logger := r.logger.With("run_id", res.RunID)
	digest := NewDigest(logger)
	logger.Info("started checking prime-gaming")

	defer func() {
		if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		if err != nil && ExitCode(err) != ExitInterrupted {
			logger.Error("run failed", "error", err)
			nctx, cancel := detached(ctx)
			defer cancel()
			res.Notified = digest.DeliverFailure(nctx, r.notifier, res.RunID, res.User, err)
		}
		res.Entries = digest.Entries()
		res.FinishedAt = time.Now().UTC()
	}()

	if r.cfg.Timeout > 0 {
		r.session.SetDefaultTimeout(r.cfg.Timeout)
	}
	signIn := NewSignIn(r.session, r.cfg.Credentials, r.cfg.Headless, r.cfg.Timeout, r.cfg.LoginTimeout, logger)
	res.User, err = signIn.Ensure(ctx)
	if err != nil {
		return res, err
	}
	logger = logger.With("user", res.User)
	namespace := res.User
	if r.cfg.Namespace != nil {
		namespace = r.cfg.Namespace(res.User)
	}

	release, err := r.lock.Acquire(ctx, namespace)
	if err != nil {
		return res, err
	}
	defer func() {
		rctx, cancel := detached(ctx)
		defer cancel()
		if rerr := release(rctx); rerr != nil {
			logger.Warn("failed to release run lock", "error", rerr)
		}
	}()

	l := ledger.New(namespace, r.persister)
	if err = l.Load(ctx); err != nil {
		return res, err
	}

	defer func() {
		if err == nil || ctx.Err() != nil {
			nctx, cancel := detached(ctx)
			defer cancel()
			res.Notified = digest.Deliver(nctx, r.notifier, res.RunID, res.User)
		}
	}()
	defer func() {
		fctx, cancel := detached(ctx)
		defer cancel()
		if ferr := l.Flush(fctx); ferr != nil {
			logger.Error("failed to write ledger", "error", ferr)
			if err == nil {
				err = ferr
			}
		}
		res.Records = l.Len()
	}()

	page := r.session.Surface()
	catalog := NewCatalog(page, logger)
	if r.Settle >= 0 {
		catalog.Settle = r.Settle
	}
	claimer := NewClaimer(r.session, l, r.redeemer, digest, r.shots, logger, ClaimerOptions{
		DryRun:        r.cfg.DryRun,
		Redeem:        r.cfg.Redeem,
		RetryUnlinked: r.cfg.RetryUnlinked,
	})
	defer func() {
		res.ClaimAttempts = claimer.ClaimAttempts()
		res.UnlinkedDLC = claimer.UnlinkedDLC()
	}()

	games, err := catalog.Games(ctx)
	if err != nil {
		return res, fmt.Errorf("discover games: %w", err)
	}
	if err = claimer.ProcessGames(ctx, games); err != nil {
		return res, err
	}

	if err = catalog.ReturnToList(ctx, TabGame); err != nil {
		return res, err
	}
	if digest.Len() > 0 {
		r.screenshotList(ctx, page, logger)
	}

	if r.cfg.ClaimDLC {
		logger.Info("trying to claim in-game content")
		loot, lerr := catalog.InGameContent(ctx)
		if lerr != nil {
			return res, fmt.Errorf("discover in-game content: %w", lerr)
		}
		if err = claimer.ProcessInGameContentList(ctx, loot); err != nil {
			return res, err
		}
		logger.Info("in-game content with unlinked accounts", "stores", claimer.UnlinkedDLC())
	}
	return res, nil
}

// screenshotList captures the whole game list after something was claimed.
func (r *Runner) screenshotList(ctx context.Context, page automation.Surface, logger *slog.Logger) {
	if r.shots == nil {
		return
	}
	if err := page.PressKey(ctx, "End"); err != nil {
		logger.Warn("failed to scroll game list", "error", err)
	}
	path := r.shots.Path(time.Now().UTC().Format("2006-01-02 15-04-05.000"))
	if err := page.Locate(selGameList).Screenshot(ctx, path); err != nil {
		logger.Warn("failed to take screenshot", "path", path, "error", err)
		return
	}
	r.shots.Persist(ctx, path)
}

// ExitCode maps the result of a run to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// detached keeps ctx values but survives its cancellation, so cleanup can finish after an interrupt.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
}
