/**
 * @description
 * The automation surface is the capability set the claimer needs from a browser:
 * navigation, element lookup and interaction, waits for selectors and network
 * responses, and screenshots. The concrete binding lives in pkg/browser; tests use
 * the scriptable fake in internal/automation/fake.
 */
package automation

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrTimeout is returned by a binding when a wait exceeded the default timeout.
var ErrTimeout = errors.New("automation: timeout")

// Surface is one page of a browser session.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	Locate(selector string) Element
	// WaitForSelector blocks until an element matching selector is visible.
	WaitForSelector(ctx context.Context, selector string) error
	// WaitForURL blocks until the page URL matches the glob pattern.
	WaitForURL(ctx context.Context, pattern string) error
	// ExpectResponse runs action and returns the first response accepted by match.
	ExpectResponse(ctx context.Context, match ResponseMatcher, action func() error) (Response, error)
	PressKey(ctx context.Context, key string) error
	WaitForNetworkIdle(ctx context.Context) error
	Screenshot(ctx context.Context, path string, fullPage bool) error
	Close() error
}

// Element is a lazy handle on zero or more elements matched by a selector.
type Element interface {
	Locate(selector string) Element
	First() Element
	All(ctx context.Context) ([]Element, error)
	Count(ctx context.Context) (int, error)
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	SetChecked(ctx context.Context, checked bool) error
	InnerText(ctx context.Context) (string, error)
	InputValue(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	WaitFor(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	Screenshot(ctx context.Context, path string) error
}

// Response is a network response observed by the surface.
type Response interface {
	URL() string
	Method() string
	Text() (string, error)
}

// ResponseMatcher selects the response ExpectResponse waits for.
type ResponseMatcher func(Response) bool

// Session is a browser context owning one or more surfaces.
type Session interface {
	// Surface returns the primary page used for the claim platform.
	Surface() Surface
	// NewSurface opens an independent page, e.g. for an external store's site.
	NewSurface(ctx context.Context) (Surface, error)
	SetDefaultTimeout(d time.Duration)
	Close() error
}

// MatchRequest accepts responses whose request used method and whose URL starts with prefix.
// An empty method matches any method.
func MatchRequest(method, prefix string) ResponseMatcher {
	return func(r Response) bool {
		if method != "" && r.Method() != method {
			return false
		}
		return strings.HasPrefix(r.URL(), prefix)
	}
}

// Exists reports whether el matches at least one element. Lookup errors count as absent.
func Exists(ctx context.Context, el Element) bool {
	n, err := el.Count(ctx)
	return err == nil && n > 0
}
