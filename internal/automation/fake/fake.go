// Package fake provides an in-memory automation surface for tests. Pages are
// described as a set of selectors with canned text, values and attributes;
// interactions are recorded in a call log that tests assert against.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rencire/free-games-claimer/internal/automation"
)

// Element describes what a selector resolves to.
type Element struct {
	N        int
	Text     string
	Value    string
	Attrs    map[string]string
	ClickErr error
	OnClick  func(s *Surface)
}

// Response is a canned network response.
type Response struct {
	RawURL string
	Verb   string
	Body   string
}

func (r Response) URL() string           { return r.RawURL }
func (r Response) Method() string        { return r.Verb }
func (r Response) Text() (string, error) { return r.Body, nil }

// Surface is a scriptable automation.Surface.
type Surface struct {
	mu          sync.Mutex
	url         string
	elements    map[string]*Element
	responses   []Response
	log         []string
	closed      bool
	OnNavigate  map[string]func(s *Surface)
	Redirects   map[string]string
	NavigateErr map[string]error

	// Blocking makes waits and element calls on missing elements or URLs poll until
	// they show up or ctx is done, as a browser page does.
	Blocking bool
}

const blockingPoll = 2 * time.Millisecond

var _ automation.Surface = (*Surface)(nil)

// NewSurface returns an empty page.
func NewSurface() *Surface {
	return &Surface{
		elements:    map[string]*Element{},
		OnNavigate:  map[string]func(s *Surface){},
		Redirects:   map[string]string{},
		NavigateErr: map[string]error{},
	}
}

// Add registers an element for selector. N defaults to 1.
func (s *Surface) Add(selector string, el Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el.N == 0 {
		el.N = 1
	}
	s.elements[selector] = &el
}

// Remove unregisters selector.
func (s *Surface) Remove(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, selector)
}

// Clear drops every registered element.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements = map[string]*Element{}
}

// QueueResponse appends a response that a later ExpectResponse may consume.
func (s *Surface) QueueResponse(r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
}

// SetURL changes the current page URL without navigation hooks.
func (s *Surface) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
}

// Log returns a copy of the recorded calls.
func (s *Surface) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// Calls returns the recorded calls that start with prefix.
func (s *Surface) Calls(prefix string) []string {
	var out []string
	for _, entry := range s.Log() {
		if strings.HasPrefix(entry, prefix) {
			out = append(out, entry)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (s *Surface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Surface) record(format string, args ...any) {
	s.log = append(s.log, fmt.Sprintf(format, args...))
}

// await returns nil once ready reports true. Without Blocking a miss fails at once with miss.
func (s *Surface) await(ctx context.Context, ready func() bool, miss error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ready() {
		return nil
	}
	s.mu.Lock()
	blocking := s.Blocking
	s.mu.Unlock()
	if !blocking {
		return miss
	}
	ticker := time.NewTicker(blockingPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ready() {
				return nil
			}
		}
	}
}

func (s *Surface) lookup(selector string) (*Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elements[selector]
	return el, ok
}

func (s *Surface) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.record("navigate %s", url)
	if err := s.NavigateErr[url]; err != nil {
		s.mu.Unlock()
		return err
	}
	s.url = url
	if target, ok := s.Redirects[url]; ok {
		s.url = target
	}
	hook := s.OnNavigate[url]
	s.mu.Unlock()

	if hook != nil {
		s.Clear()
		hook(s)
	}
	return nil
}

func (s *Surface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Surface) Locate(selector string) automation.Element {
	return &handle{s: s, selector: selector}
}

func (s *Surface) WaitForSelector(ctx context.Context, selector string) error {
	return s.await(ctx, func() bool {
		el, ok := s.lookup(selector)
		return ok && el.N > 0
	}, fmt.Errorf("wait for %q: %w", selector, automation.ErrTimeout))
}

func (s *Surface) WaitForURL(ctx context.Context, pattern string) error {
	re := glob(pattern)
	return s.await(ctx, func() bool {
		return re.MatchString(s.URL())
	}, fmt.Errorf("wait for url %q: %w", pattern, automation.ErrTimeout))
}

func (s *Surface) ExpectResponse(ctx context.Context, match automation.ResponseMatcher, action func() error) (automation.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if action != nil {
		if err := action(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.responses {
		if match(r) {
			s.responses = append(s.responses[:i:i], s.responses[i+1:]...)
			s.record("response %s %s", r.Verb, r.RawURL)
			return r, nil
		}
	}
	return nil, fmt.Errorf("expect response: %w", automation.ErrTimeout)
}

func (s *Surface) PressKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("press %s", key)
	return nil
}

func (s *Surface) WaitForNetworkIdle(ctx context.Context) error {
	return ctx.Err()
}

func (s *Surface) Screenshot(ctx context.Context, path string, fullPage bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("screenshot %s", path)
	return nil
}

func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.record("close")
	return nil
}

type handle struct {
	s        *Surface
	selector string
}

func (h *handle) Locate(selector string) automation.Element {
	return &handle{s: h.s, selector: h.selector + " >> " + selector}
}

func (h *handle) First() automation.Element {
	return h
}

func (h *handle) All(ctx context.Context) ([]automation.Element, error) {
	var out []automation.Element
	for i := 0; ; i++ {
		sel := fmt.Sprintf("%s >> nth=%d", h.selector, i)
		if _, ok := h.s.lookup(sel); !ok {
			break
		}
		out = append(out, &handle{s: h.s, selector: sel})
	}
	if len(out) > 0 {
		return out, nil
	}
	n, _ := h.Count(ctx)
	for i := 0; i < n; i++ {
		out = append(out, &handle{s: h.s, selector: fmt.Sprintf("%s >> nth=%d", h.selector, i)})
	}
	return out, nil
}

func (h *handle) Count(ctx context.Context) (int, error) {
	if el, ok := h.s.lookup(h.selector); ok {
		return el.N, nil
	}
	return 0, nil
}

func (h *handle) resolve(ctx context.Context) (*Element, error) {
	var el *Element
	err := h.s.await(ctx, func() bool {
		var ok bool
		el, ok = h.s.lookup(h.selector)
		return ok && el.N > 0
	}, fmt.Errorf("locate %q: %w", h.selector, automation.ErrTimeout))
	if err != nil {
		return nil, err
	}
	return el, nil
}

func (h *handle) Click(ctx context.Context) error {
	el, err := h.resolve(ctx)
	if err != nil {
		return err
	}
	h.s.mu.Lock()
	h.s.record("click %s", h.selector)
	h.s.mu.Unlock()
	if el.ClickErr != nil {
		return el.ClickErr
	}
	if el.OnClick != nil {
		el.OnClick(h.s)
	}
	return nil
}

func (h *handle) Fill(ctx context.Context, value string) error {
	el, err := h.resolve(ctx)
	if err != nil {
		return err
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	el.Value = value
	h.s.record("fill %s=%s", h.selector, value)
	return nil
}

func (h *handle) SetChecked(ctx context.Context, checked bool) error {
	if _, err := h.resolve(ctx); err != nil {
		return err
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.record("check %s=%t", h.selector, checked)
	return nil
}

func (h *handle) InnerText(ctx context.Context) (string, error) {
	el, err := h.resolve(ctx)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (h *handle) InputValue(ctx context.Context) (string, error) {
	el, err := h.resolve(ctx)
	if err != nil {
		return "", err
	}
	return el.Value, nil
}

func (h *handle) Attribute(ctx context.Context, name string) (string, error) {
	el, err := h.resolve(ctx)
	if err != nil {
		return "", err
	}
	return el.Attrs[name], nil
}

func (h *handle) WaitFor(ctx context.Context) error {
	_, err := h.resolve(ctx)
	return err
}

func (h *handle) ScrollIntoView(ctx context.Context) error {
	return nil
}

func (h *handle) Screenshot(ctx context.Context, path string) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.record("screenshot %s", path)
	return nil
}

// Session is a scriptable automation.Session.
type Session struct {
	mu       sync.Mutex
	Main     *Surface
	Pages    []*Surface
	Opened   int
	Timeouts []time.Duration
	closed   bool
}

var _ automation.Session = (*Session)(nil)

// NewSession returns a session whose primary surface is main.
func NewSession(main *Surface) *Session {
	return &Session{Main: main}
}

func (s *Session) Surface() automation.Surface { return s.Main }

// NewSurface hands out queued pages in order, then blank ones.
func (s *Session) NewSurface(ctx context.Context) (automation.Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Opened++
	if len(s.Pages) > 0 {
		p := s.Pages[0]
		s.Pages = s.Pages[1:]
		return p, nil
	}
	return NewSurface(), nil
}

func (s *Session) SetDefaultTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Timeouts = append(s.Timeouts, d)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
