/**
 * @description
 * The claimer drives every discovered offer through claim, store resolution and
 * code redemption, recording each result in the claim ledger and the run digest.
 * Failures of a single offer are recorded against that offer and never stop the
 * batch; only cancellation of the run does.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rencire/free-games-claimer/internal/automation"
	"github.com/rencire/free-games-claimer/internal/domain"
	"github.com/rencire/free-games-claimer/internal/ledger"
	"github.com/rencire/free-games-claimer/internal/redeem"
)

const (
	selGetGame        = `.tw-button:has-text("Get game")`
	selClaim          = `.tw-button:has-text("Claim")`
	selCompleteClaim  = `.tw-button:has-text("Complete Claim")`
	selLinkGame       = `div:has-text("Link game account")`
	selLinkAccount    = `div:has-text("Link account")`
	selSuccessBanner  = `.thank-you-title:has-text("Success")`
	selHeroSubtitle   = `[data-a-target="hero-header-subtitle"]`
	selDescription    = `[data-a-target="DescriptionItemDetails"]`
	selCodeInput      = `input[type="text"]`
	selCodeText       = `[data-a-target="ClaimStateClaimCodeContent"]`
	selLegacyRedeemAt = `li:has-text("Click here") a`

	selGetLoot       = `button:has-text("Get in-game content")`
	selClaimGift     = `button:has-text("Claim your gift")`
	selClaimButton   = `button:has-text("Claim")`
	selContinue      = `button:has-text("Continue")`
	selLinkButton    = `[data-a-target="LinkAccountButton"]`
	selLinkGameText  = `text=Link game account`
	unknownLinkStore = "unknown"
	epicGamesStore   = "epic-games"
)

// Redeemer submits codes on external stores.
type Redeemer interface {
	Supports(store string) bool
	DefaultURL(store string) string
	Redeem(ctx context.Context, store, code, redeemURL string, s automation.Surface) (domain.RedemptionOutcome, error)
}

// Screenshots names and persists screenshot files.
type Screenshots interface {
	Path(parts ...string) string
	Persist(ctx context.Context, path string)
}

// ClaimerOptions toggle the optional behaviour of a run.
type ClaimerOptions struct {
	DryRun bool
	// Redeem submits codes on the stores that have a redemption protocol.
	Redeem bool
	// RetryUnlinked re-attempts offers recorded as needing account linking.
	RetryUnlinked bool
}

// Claimer owns the per-run claim state of one user.
type Claimer struct {
	session  automation.Session
	page     automation.Surface
	ledger   *ledger.Ledger
	redeemer Redeemer
	digest   *Digest
	shots    Screenshots
	logger   *slog.Logger
	opts     ClaimerOptions

	attempts int
	unlinked map[string][]string
}

func NewClaimer(
	session automation.Session,
	l *ledger.Ledger,
	redeemer Redeemer,
	digest *Digest,
	shots Screenshots,
	logger *slog.Logger,
	opts ClaimerOptions,
) *Claimer {
	return &Claimer{
		session:  session,
		page:     session.Surface(),
		ledger:   l,
		redeemer: redeemer,
		digest:   digest,
		shots:    shots,
		logger:   logger,
		opts:     opts,
		unlinked: map[string][]string{},
	}
}

// ClaimAttempts counts the offers the claimer tried to claim on the platform.
func (c *Claimer) ClaimAttempts() int {
	return c.attempts
}

// UnlinkedDLC maps a store that needs account linking to the in-game content waiting on it.
func (c *Claimer) UnlinkedDLC() map[string][]string {
	out := make(map[string][]string, len(c.unlinked))
	for store, titles := range c.unlinked {
		out[store] = append([]string(nil), titles...)
	}
	return out
}

// ProcessGames claims internal offers, then external offers, each in discovery order.
func (c *Claimer) ProcessGames(ctx context.Context, offers []domain.Offer) error {
	for _, kind := range []domain.OfferKind{domain.OfferKindInternal, domain.OfferKindExternal} {
		for _, offer := range offers {
			if offer.Kind != kind {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var err error
			if kind == domain.OfferKindInternal {
				err = c.ProcessInternalOffer(ctx, offer)
			} else {
				err = c.ProcessExternalOffer(ctx, offer)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessInGameContentList claims in-game content offers in discovery order.
func (c *Claimer) ProcessInGameContentList(ctx context.Context, offers []domain.Offer) error {
	for _, offer := range offers {
		if offer.Kind != domain.OfferKindInGameContent {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.ProcessInGameContent(ctx, offer); err != nil {
			return err
		}
	}
	if len(c.unlinked) > 0 {
		stores := make([]string, 0, len(c.unlinked))
		for store := range c.unlinked {
			stores = append(stores, store)
		}
		sort.Strings(stores)
		c.logger.Warn("in-game content needs account linking", "stores", stores)
	}
	return nil
}

// skip reports whether the ledger already settled key.
func (c *Claimer) skip(key string) bool {
	rec, ok := c.ledger.Get(key)
	if !ok {
		return false
	}
	return !(c.opts.RetryUnlinked && rec.Status.IsFailure())
}

// ProcessInternalOffer claims an offer that is fulfilled on the platform itself.
// The returned error is only non-nil when ctx is done.
func (c *Claimer) ProcessInternalOffer(ctx context.Context, offer domain.Offer) error {
	logger := c.logger.With("title", offer.Title, "kind", offer.Kind)
	if offer.Collected || c.skip(offer.Key()) {
		logger.Debug("offer already claimed")
		return nil
	}
	logger.Info("current free game")
	if c.opts.DryRun {
		return nil
	}
	if offer.Card == nil {
		logger.Error("internal offer has no card to claim from")
		return nil
	}

	c.attempts++
	_ = offer.Card.ScrollIntoView(ctx)
	if err := offer.Card.Locate(selClaim).Click(ctx); err != nil {
		logger.Error("failed to claim offer", "error", err)
		c.digest.Add(domain.NotifyEntry{Title: offer.Title, URL: URLClaim, Status: failedStatus(err)})
		return ctx.Err()
	}

	c.ledger.Upsert(offer.Key(), ledger.Patch{Store: domain.StoreInternal, Status: domain.ClaimStatusClaimed})
	c.digest.Add(domain.NotifyEntry{Title: offer.Title, URL: URLClaim, Status: "claimed"})

	if c.shots != nil {
		path := c.shots.Path("internal", offer.Title)
		if err := offer.Card.Screenshot(ctx, path); err != nil {
			logger.Warn("failed to take screenshot", "path", path, "error", err)
		} else {
			c.shots.Persist(ctx, path)
		}
	}
	return nil
}

// ProcessExternalOffer claims an offer whose game is delivered by an external store
// and redeems its code there when the store is supported.
// The returned error is only non-nil when ctx is done.
func (c *Claimer) ProcessExternalOffer(ctx context.Context, offer domain.Offer) error {
	logger := c.logger.With("title", offer.Title, "kind", offer.Kind)
	if c.skip(offer.Key()) {
		logger.Debug("offer already claimed")
		return nil
	}
	logger.Info("current free game", "url", offer.URL)
	if c.opts.DryRun {
		return nil
	}

	c.attempts++
	entry, err := c.claimExternal(ctx, offer, logger)
	if err != nil {
		logger.Error("failed to claim offer", "error", err)
		entry.Status = failedStatus(err)
	}
	c.digest.Add(entry)
	return ctx.Err()
}

func (c *Claimer) claimExternal(ctx context.Context, offer domain.Offer, logger *slog.Logger) (domain.NotifyEntry, error) {
	entry := domain.NotifyEntry{Title: offer.Title, URL: offer.URL}
	if err := c.page.Navigate(ctx, offer.URL); err != nil {
		return entry, err
	}

	_, err := automation.Race(ctx,
		c.clickCandidate(selGetGame),
		c.clickCandidate(selClaim),
		c.clickCandidate(selCompleteClaim),
		c.waitCandidate(selLinkGame),
		c.waitCandidate(selLinkAccount),
		c.waitCandidate(selSuccessBanner),
	)
	if err != nil {
		return entry, fmt.Errorf("wait for claim page: %w", err)
	}

	store := c.resolveStore(ctx)
	logger = logger.With("store", store)
	logger.Info("external store")
	c.ledger.Upsert(offer.Key(), ledger.Patch{URL: offer.URL, Store: store})

	if automation.Exists(ctx, c.page.Locate(selLinkGame)) || automation.Exists(ctx, c.page.Locate(selLinkAccount)) {
		logger.Error("account linking is required to claim this offer")
		c.ledger.Upsert(offer.Key(), ledger.Patch{Status: domain.ClaimStatusFailedNeedsLinking})
		entry.Status = "failed: need account linking for " + store
		return entry, nil
	}

	c.ledger.Upsert(offer.Key(), ledger.Patch{Status: domain.ClaimStatusClaimed})
	if store != "" && c.redeemer.Supports(store) {
		entry.Status = c.redeemCode(ctx, offer, store, logger)
	} else {
		entry.Status = "claimed on " + store
	}

	if c.shots != nil {
		path := c.shots.Path("external", offer.Title)
		if err := c.page.Screenshot(ctx, path, true); err != nil {
			logger.Warn("failed to take screenshot", "path", path, "error", err)
		} else {
			c.shots.Persist(ctx, path)
		}
	}
	return entry, nil
}

// resolveStore reads the store from the page header, falling back to the item
// description. An empty result means the store is unknown.
func (c *Claimer) resolveStore(ctx context.Context) string {
	for _, sel := range []string{selHeroSubtitle, selDescription} {
		el := c.page.Locate(sel).First()
		if !automation.Exists(ctx, el) {
			continue
		}
		text, err := el.InnerText(ctx)
		if err != nil {
			continue
		}
		if store, ok := ExtractStore(text); ok {
			return store
		}
	}
	return ""
}

func (c *Claimer) redeemCode(ctx context.Context, offer domain.Offer, store string, logger *slog.Logger) string {
	outcome := domain.RedemptionOutcome{Action: domain.RedemptionNotImplemented, RedeemURL: c.redeemer.DefaultURL(store)}

	code, err := c.readCode(ctx)
	if err != nil {
		logger.Error("failed to read code", "error", err)
		return fmt.Sprintf(`<a href="%s">%s</a> on %s`, outcome.RedeemURL, outcome.Action.Label(), store)
	}
	outcome.Code = code
	logger.Info("code to redeem game", "code", code)

	if redeem.NormalizeStore(store) == redeem.StoreLegacy {
		if href, err := c.page.Locate(selLegacyRedeemAt).First().Attribute(ctx, "href"); err == nil && strings.TrimSpace(href) != "" {
			outcome.RedeemURL = strings.TrimSpace(href)
		} else {
			logger.Warn("legacy games redeem link not found; using default", "url", outcome.RedeemURL)
		}
	}
	logger.Info("url to redeem game", "url", outcome.RedeemURL)
	c.ledger.Upsert(offer.Key(), ledger.Patch{Code: code})

	if c.opts.Redeem {
		outcome = c.redeemOnStore(ctx, store, outcome, logger)
		c.ledger.Upsert(offer.Key(), ledger.Patch{Status: outcome.Action.ClaimStatus()})
	}
	return fmt.Sprintf(`<a href="%s">%s</a> %s on %s`, outcome.RedeemURL, outcome.Action.Label(), outcome.Code, store)
}

// redeemOnStore uses a separate surface so the store site cannot disturb the platform page.
func (c *Claimer) redeemOnStore(ctx context.Context, store string, pending domain.RedemptionOutcome, logger *slog.Logger) domain.RedemptionOutcome {
	logger.Info("trying to redeem code", "code", pending.Code)
	page2, err := c.session.NewSurface(ctx)
	if err != nil {
		logger.Error("failed to open redeem page", "error", err)
		return pending
	}
	defer func() {
		if err := page2.Close(); err != nil {
			logger.Warn("failed to close redeem page", "error", err)
		}
	}()

	outcome, err := c.redeemer.Redeem(ctx, store, pending.Code, pending.RedeemURL, page2)
	if err != nil {
		logger.Error("failed to redeem code", "error", err)
		return pending
	}
	logger.Info("redemption finished", "action", outcome.Action)
	return outcome
}

// readCode takes the code from whichever of the text field or the code banner shows up first.
func (c *Claimer) readCode(ctx context.Context) (string, error) {
	var fromInput, fromText string
	idx, err := automation.Race(ctx,
		func(ctx context.Context) error {
			v, err := c.page.Locate(selCodeInput).First().InputValue(ctx)
			if err == nil && strings.TrimSpace(v) == "" {
				err = fmt.Errorf("empty code input")
			}
			fromInput = v
			return err
		},
		func(ctx context.Context) error {
			v, err := c.page.Locate(selCodeText).First().InnerText(ctx)
			if err == nil && strings.TrimSpace(v) == "" {
				err = fmt.Errorf("empty code banner")
			}
			fromText = v
			return err
		},
	)
	if err != nil {
		return "", err
	}
	if idx == 0 {
		return strings.TrimSpace(fromInput), nil
	}
	return strings.TrimSpace(strings.Replace(fromText, "Your code: ", "", 1)), nil
}

// ProcessInGameContent claims one in-game content offer. Its ledger record starts
// as needing account linking so an interrupted attempt is still on record. The page
// is always returned to the in-game content list afterwards.
// The returned error is only non-nil when ctx is done.
func (c *Claimer) ProcessInGameContent(ctx context.Context, offer domain.Offer) error {
	key := offer.Key()
	logger := c.logger.With("title", key, "kind", offer.Kind)
	if c.skip(key) {
		logger.Debug("offer already claimed")
		return nil
	}
	logger.Info("current in-game content", "url", offer.URL)
	if c.opts.DryRun {
		return nil
	}

	c.attempts++
	c.ledger.Upsert(key, ledger.Patch{URL: offer.URL, Store: domain.StoreDLC, Status: domain.ClaimStatusFailedNeedsLinking})
	entry := domain.NotifyEntry{Title: key, URL: offer.URL}

	status, err := c.claimInGameContent(ctx, key, offer.URL, logger)
	if err != nil {
		logger.Error("failed to claim in-game content", "error", err)
		status = failedStatus(err)
	}
	entry.Status = status
	c.digest.Add(entry)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := returnToList(ctx, c.page, TabInGameLoot); err != nil {
		logger.Error("failed to return to in-game content list", "error", err)
	}
	return ctx.Err()
}

func (c *Claimer) claimInGameContent(ctx context.Context, key, url string, logger *slog.Logger) (string, error) {
	if err := c.page.Navigate(ctx, url); err != nil {
		return "", err
	}

	_, err := automation.Race(ctx,
		c.clickCandidate(selGetLoot),
		c.clickCandidate(selClaimGift),
		func(ctx context.Context) error {
			if err := c.page.Locate(selClaimButton).First().Click(ctx); err != nil {
				return err
			}
			return c.page.Locate(selContinue).First().Click(ctx)
		},
	)
	if err != nil {
		return "", fmt.Errorf("claim in-game content: %w", err)
	}
	if cont := c.page.Locate(selContinue).First(); automation.Exists(ctx, cont) {
		_ = cont.Click(ctx)
	}

	store := ""
	if btn := c.page.Locate(selLinkButton).First(); automation.Exists(ctx, btn) {
		label, _ := btn.Attribute(ctx, "aria-label")
		logger.Debug("link account button", "label", label)
		if store = LinkedStoreFromLabel(label); store == "" {
			store = unknownLinkStore
		}
	} else if automation.Exists(ctx, c.page.Locate(selLinkGameText)) {
		store = epicGamesStore
	}
	if store != "" {
		logger.Error("missing account linking", "store", store, "url", url)
		c.unlinked[store] = append(c.unlinked[store], key)
		return "failed: need account linking for " + store, nil
	}

	code, err := c.page.Locate(selCodeInput).First().InputValue(ctx)
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}
	code = strings.TrimSpace(code)
	logger.Info("code to redeem in-game content", "code", code)
	c.ledger.Upsert(key, ledger.Patch{Code: code, Status: domain.ClaimStatusClaimed})
	return "claimed code " + code, nil
}

func (c *Claimer) clickCandidate(selector string) automation.Candidate {
	return func(ctx context.Context) error {
		return c.page.Locate(selector).First().Click(ctx)
	}
}

func (c *Claimer) waitCandidate(selector string) automation.Candidate {
	return func(ctx context.Context) error {
		return c.page.WaitForSelector(ctx, selector)
	}
}

func failedStatus(err error) string {
	return "failed: " + firstLine(err.Error())
}
