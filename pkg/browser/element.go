package browser

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/rencire/free-games-claimer/internal/automation"
)

// locatorElement is a lazy playwright locator; it is re-resolved on every call.
type locatorElement struct {
	loc     playwright.Locator
	session *Session
}

func (e *locatorElement) Locate(selector string) automation.Element {
	return &locatorElement{loc: e.loc.Locator(selector), session: e.session}
}

func (e *locatorElement) First() automation.Element {
	return &locatorElement{loc: e.loc.First(), session: e.session}
}

// All pins the current matches to element handles, so claiming one card does not
// shift the others.
func (e *locatorElement) All(ctx context.Context) ([]automation.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handles, err := e.loc.ElementHandles()
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]automation.Element, len(handles))
	for i, h := range handles {
		out[i] = &handleElement{h: h, session: e.session}
	}
	return out, nil
}

func (e *locatorElement) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := e.loc.Count()
	return n, mapError(err)
}

func (e *locatorElement) Click(ctx context.Context) error {
	if err := e.visible(ctx); err != nil {
		return err
	}
	return mapError(e.loc.Click(playwright.LocatorClickOptions{Timeout: e.session.actionTimeout(ctx)}))
}

func (e *locatorElement) Fill(ctx context.Context, value string) error {
	if err := e.visible(ctx); err != nil {
		return err
	}
	return mapError(e.loc.Fill(value, playwright.LocatorFillOptions{Timeout: e.session.actionTimeout(ctx)}))
}

func (e *locatorElement) SetChecked(ctx context.Context, checked bool) error {
	if err := e.visible(ctx); err != nil {
		return err
	}
	return mapError(e.loc.SetChecked(checked, playwright.LocatorSetCheckedOptions{Timeout: e.session.actionTimeout(ctx)}))
}

func (e *locatorElement) InnerText(ctx context.Context) (string, error) {
	if err := e.visible(ctx); err != nil {
		return "", err
	}
	text, err := e.loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: e.session.actionTimeout(ctx)})
	return text, mapError(err)
}

func (e *locatorElement) InputValue(ctx context.Context) (string, error) {
	if err := e.visible(ctx); err != nil {
		return "", err
	}
	value, err := e.loc.InputValue(playwright.LocatorInputValueOptions{Timeout: e.session.actionTimeout(ctx)})
	return value, mapError(err)
}

// Attribute only needs the element to be attached; hidden elements carry attributes too.
func (e *locatorElement) Attribute(ctx context.Context, name string) (string, error) {
	err := e.session.poll(ctx, "wait for element", func() (bool, error) {
		n, err := e.loc.Count()
		return n > 0, err
	})
	if err != nil {
		return "", err
	}
	value, err := e.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: e.session.actionTimeout(ctx)})
	return value, mapError(err)
}

func (e *locatorElement) WaitFor(ctx context.Context) error {
	return e.visible(ctx)
}

func (e *locatorElement) ScrollIntoView(ctx context.Context) error {
	if err := e.visible(ctx); err != nil {
		return err
	}
	return mapError(e.loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: e.session.actionTimeout(ctx)}))
}

func (e *locatorElement) Screenshot(ctx context.Context, path string) error {
	if err := e.visible(ctx); err != nil {
		return err
	}
	_, err := e.loc.Screenshot(playwright.LocatorScreenshotOptions{Path: playwright.String(path)})
	return mapError(err)
}

// visible polls until the first match is visible. The playwright call that follows
// then acts on an element that is already there instead of blocking inside the driver
// past a cancelled ctx.
func (e *locatorElement) visible(ctx context.Context) error {
	first := e.loc.First()
	return e.session.poll(ctx, "wait for element", func() (bool, error) {
		return first.IsVisible()
	})
}

// handleElement is bound to one element. With a selector it addresses the first
// descendant of that element matching it.
type handleElement struct {
	h        playwright.ElementHandle
	selector string
	session  *Session
}

func (e *handleElement) resolve() (playwright.ElementHandle, error) {
	if e.selector == "" {
		return e.h, nil
	}
	h, err := e.h.QuerySelector(e.selector)
	if err != nil {
		return nil, mapError(err)
	}
	if h == nil {
		return nil, fmt.Errorf("locate %q: %w", e.selector, automation.ErrTimeout)
	}
	return h, nil
}

func (e *handleElement) Locate(selector string) automation.Element {
	if e.selector != "" {
		selector = e.selector + " >> " + selector
	}
	return &handleElement{h: e.h, selector: selector, session: e.session}
}

func (e *handleElement) First() automation.Element {
	return e
}

func (e *handleElement) All(ctx context.Context) ([]automation.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.selector == "" {
		return []automation.Element{e}, nil
	}
	handles, err := e.h.QuerySelectorAll(e.selector)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]automation.Element, len(handles))
	for i, h := range handles {
		out[i] = &handleElement{h: h, session: e.session}
	}
	return out, nil
}

func (e *handleElement) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if e.selector == "" {
		return 1, nil
	}
	handles, err := e.h.QuerySelectorAll(e.selector)
	if err != nil {
		return 0, mapError(err)
	}
	return len(handles), nil
}

func (e *handleElement) Click(ctx context.Context) error {
	h, err := e.ready(ctx)
	if err != nil {
		return err
	}
	return mapError(h.Click(playwright.ElementHandleClickOptions{Timeout: e.session.actionTimeout(ctx)}))
}

func (e *handleElement) Fill(ctx context.Context, value string) error {
	h, err := e.ready(ctx)
	if err != nil {
		return err
	}
	return mapError(h.Fill(value, playwright.ElementHandleFillOptions{Timeout: e.session.actionTimeout(ctx)}))
}

func (e *handleElement) SetChecked(ctx context.Context, checked bool) error {
	h, err := e.ready(ctx)
	if err != nil {
		return err
	}
	return mapError(h.SetChecked(checked, playwright.ElementHandleSetCheckedOptions{Timeout: e.session.actionTimeout(ctx)}))
}

func (e *handleElement) InnerText(ctx context.Context) (string, error) {
	h, err := e.ready(ctx)
	if err != nil {
		return "", err
	}
	text, err := h.InnerText()
	return text, mapError(err)
}

func (e *handleElement) InputValue(ctx context.Context) (string, error) {
	h, err := e.ready(ctx)
	if err != nil {
		return "", err
	}
	value, err := h.InputValue()
	return value, mapError(err)
}

func (e *handleElement) Attribute(ctx context.Context, name string) (string, error) {
	h, err := e.attached(ctx)
	if err != nil {
		return "", err
	}
	value, err := h.GetAttribute(name)
	return value, mapError(err)
}

func (e *handleElement) WaitFor(ctx context.Context) error {
	_, err := e.ready(ctx)
	return err
}

func (e *handleElement) ScrollIntoView(ctx context.Context) error {
	h, err := e.ready(ctx)
	if err != nil {
		return err
	}
	return mapError(h.ScrollIntoViewIfNeeded())
}

func (e *handleElement) Screenshot(ctx context.Context, path string) error {
	h, err := e.ready(ctx)
	if err != nil {
		return err
	}
	_, err = h.Screenshot(playwright.ElementHandleScreenshotOptions{Path: playwright.String(path)})
	return mapError(err)
}

// ready polls until the element resolves and is visible.
func (e *handleElement) ready(ctx context.Context) (playwright.ElementHandle, error) {
	var h playwright.ElementHandle
	err := e.session.poll(ctx, "wait for element", func() (bool, error) {
		var err error
		if h, err = e.resolve(); err != nil {
			return false, nil
		}
		return h.IsVisible()
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// attached polls until the element resolves.
func (e *handleElement) attached(ctx context.Context) (playwright.ElementHandle, error) {
	var h playwright.ElementHandle
	err := e.session.poll(ctx, "wait for element", func() (bool, error) {
		var err error
		h, err = e.resolve()
		return err == nil, nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}
