package automation

import (
	"context"
	"errors"
	"fmt"
)

// Candidate is one branch of a Race. It must return promptly once ctx is cancelled.
type Candidate func(ctx context.Context) error

// Race runs every candidate concurrently and returns the index of the first one that
// succeeds. The remaining candidates are cancelled and awaited before Race returns, so
// no wait is left running. When every candidate fails the joined errors are returned.
func Race(ctx context.Context, candidates ...Candidate) (int, error) {
	if len(candidates) == 0 {
		return -1, errors.New("race: no candidates")
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		index int
		err   error
	}
	results := make(chan result, len(candidates))
	for i, c := range candidates {
		go func(i int, c Candidate) {
			results <- result{index: i, err: c(raceCtx)}
		}(i, c)
	}

	winner := -1
	errs := make([]error, 0, len(candidates))
	for range candidates {
		r := <-results
		if r.err == nil && winner < 0 {
			winner = r.index
			cancel()
			continue
		}
		if r.err != nil && winner < 0 {
			errs = append(errs, fmt.Errorf("candidate %d: %w", r.index, r.err))
		}
	}

	if winner >= 0 {
		return winner, nil
	}
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	return -1, errors.Join(errs...)
}

// RaceSelectors waits until one of the selectors becomes visible and returns its index.
func RaceSelectors(ctx context.Context, s Surface, selectors ...string) (int, error) {
	candidates := make([]Candidate, len(selectors))
	for i, sel := range selectors {
		sel := sel
		candidates[i] = func(ctx context.Context) error {
			return s.WaitForSelector(ctx, sel)
		}
	}
	return Race(ctx, candidates...)
}
