package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/rencire/free-games-claimer/internal/automation"
)

// Surface is one browser page.
type Surface struct {
	page    playwright.Page
	session *Session
}

var _ automation.Surface = (*Surface)(nil)

func (s *Surface) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateDomcontentloaded})
	if err != nil {
		return fmt.Errorf("goto %s: %w", url, mapError(err))
	}
	return nil
}

func (s *Surface) URL() string {
	return s.page.URL()
}

func (s *Surface) Locate(selector string) automation.Element {
	return &locatorElement{loc: s.page.Locator(selector), session: s.session}
}

func (s *Surface) WaitForSelector(ctx context.Context, selector string) error {
	loc := s.page.Locator(selector).First()
	return s.session.poll(ctx, fmt.Sprintf("wait for %q", selector), func() (bool, error) {
		return loc.IsVisible()
	})
}

// WaitForURL lets playwright match the glob in short slices so ctx is checked between them.
func (s *Surface) WaitForURL(ctx context.Context, pattern string) error {
	return s.session.poll(ctx, fmt.Sprintf("wait for url %q", pattern), func() (bool, error) {
		err := s.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{
			Timeout:   playwright.Float(float64(pollInterval.Milliseconds())),
			WaitUntil: playwright.WaitUntilStateCommit,
		})
		if errors.Is(err, playwright.ErrTimeout) {
			return false, nil
		}
		return err == nil, err
	})
}

func (s *Surface) ExpectResponse(ctx context.Context, match automation.ResponseMatcher, action func() error) (automation.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := s.page.ExpectResponse(func(r playwright.Response) bool {
		return match(response{r})
	}, action)
	if err != nil {
		return nil, fmt.Errorf("expect response: %w", mapError(err))
	}
	return response{resp}, nil
}

func (s *Surface) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(s.page.Keyboard().Press(key))
}

func (s *Surface) WaitForNetworkIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateNetworkidle}))
}

func (s *Surface) Screenshot(ctx context.Context, path string, fullPage bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
	})
	return mapError(err)
}

func (s *Surface) Close() error {
	return s.page.Close()
}

type response struct {
	r playwright.Response
}

func (r response) URL() string { return r.r.URL() }

func (r response) Method() string { return r.r.Request().Method() }

func (r response) Text() (string, error) { return r.r.Text() }
