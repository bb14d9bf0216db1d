package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rencire/free-games-claimer/internal/automation"
	"github.com/rencire/free-games-claimer/internal/domain"
)

const (
	URLClaim       = "https://gaming.amazon.com/home"
	platformOrigin = "https://gaming.amazon.com"

	selGameList      = `div[data-a-target="offer-list-FGWP_FULL"]`
	selLootList      = `div[data-a-target="offer-list-IN_GAME_LOOT"]`
	selInternalCard  = `.item-card__action:has([data-a-target="FGWPOffer"])`
	selExternalCard  = `.item-card__action:has([data-a-target="ExternalOfferClaim"])`
	selLootCard      = `[data-a-target="item-card"]`
	selUnclaimedLoot = `[data-a-target="item-card"]:has(p:text-is("Claim"))`
	selCardTitle     = `.item-card-details__body__primary`
	selCardGame      = `.item-card-details__body p`
	selCollected     = `p:has-text("Collected")`
	selClaimLink     = `a:has-text("Claim")`

	maxLootScrolls = 50
)

// Tab is a list on the platform home page.
type Tab string

const (
	TabGame       Tab = "Game"
	TabInGameLoot Tab = "InGameLoot"
)

func (t Tab) selector() string {
	return fmt.Sprintf(`button[data-type="%s"]`, string(t))
}

// Catalog enumerates the offers listed on the platform home page.
type Catalog struct {
	s      automation.Surface
	logger *slog.Logger
	// Settle is the pause after scrolling that lets lazily loaded cards render.
	Settle time.Duration
}

func NewCatalog(s automation.Surface, logger *slog.Logger) *Catalog {
	return &Catalog{s: s, logger: logger, Settle: 2 * time.Second}
}

// Games lists the unclaimed full-game offers: offers claimed on the platform
// first, then offers fulfilled on external stores, each in page order.
func (c *Catalog) Games(ctx context.Context) ([]domain.Offer, error) {
	if err := c.s.Locate(TabGame.selector()).Click(ctx); err != nil {
		return nil, fmt.Errorf("open games tab: %w", err)
	}
	if err := c.scrollToEnd(ctx); err != nil {
		return nil, err
	}

	games := c.s.Locate(selGameList)
	if err := games.WaitFor(ctx); err != nil {
		return nil, fmt.Errorf("wait for game list: %w", err)
	}
	if n, err := games.Locate(selCollected).Count(ctx); err == nil {
		c.logger.Info("already claimed games", "count", n)
	}

	internal, err := games.Locate(selInternalCard).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list internal offers: %w", err)
	}
	external, err := games.Locate(selExternalCard).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list external offers: %w", err)
	}
	c.logger.Info("free unclaimed games", "internal", len(internal), "external", len(external))

	offers := make([]domain.Offer, 0, len(internal)+len(external))
	for _, card := range internal {
		title, err := card.Locate(selCardTitle).InnerText(ctx)
		if err != nil {
			return nil, fmt.Errorf("read internal offer title: %w", err)
		}
		offers = append(offers, domain.Offer{
			Title:     strings.TrimSpace(title),
			Kind:      domain.OfferKindInternal,
			URL:       URLClaim,
			Collected: automation.Exists(ctx, card.Locate(selCollected)),
			Card:      card,
		})
	}

	// External cards go stale once the page navigates, so everything is read up front.
	for _, card := range external {
		title, err := card.Locate(selCardTitle).InnerText(ctx)
		if err != nil {
			return nil, fmt.Errorf("read external offer title: %w", err)
		}
		href, err := card.Locate(selClaimLink).First().Attribute(ctx, "href")
		if err != nil {
			return nil, fmt.Errorf("read claim link of %q: %w", title, err)
		}
		offers = append(offers, domain.Offer{
			Title: strings.TrimSpace(title),
			Kind:  domain.OfferKindExternal,
			URL:   platformOrigin + strings.SplitN(href, "?", 2)[0],
		})
	}
	return offers, nil
}

// InGameContent lists the unclaimed in-game content offers. The list loads lazily,
// so it is scrolled until the number of cards stops growing.
func (c *Catalog) InGameContent(ctx context.Context) ([]domain.Offer, error) {
	if err := c.s.Locate(TabInGameLoot.selector()).Click(ctx); err != nil {
		return nil, fmt.Errorf("open in-game content tab: %w", err)
	}
	loot := c.s.Locate(selLootList)
	if err := loot.WaitFor(ctx); err != nil {
		return nil, fmt.Errorf("wait for in-game content list: %w", err)
	}

	prev := -1
	for i := 0; i < maxLootScrolls; i++ {
		n, err := loot.Locate(selLootCard).Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count in-game content: %w", err)
		}
		if n <= prev {
			break
		}
		prev = n
		if err := c.scrollToEnd(ctx); err != nil {
			return nil, err
		}
	}
	if n, err := loot.Locate(selCollected).Count(ctx); err == nil {
		c.logger.Info("already claimed in-game content", "count", n)
	}

	cards, err := loot.Locate(selUnclaimedLoot).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list in-game content: %w", err)
	}
	c.logger.Info("unclaimed in-game content", "count", len(cards))

	offers := make([]domain.Offer, 0, len(cards))
	for _, card := range cards {
		game, err := card.Locate(selCardGame).First().InnerText(ctx)
		if err != nil {
			return nil, fmt.Errorf("read in-game content game: %w", err)
		}
		title, err := card.Locate(selCardTitle).InnerText(ctx)
		if err != nil {
			return nil, fmt.Errorf("read in-game content title: %w", err)
		}
		href, err := card.Locate("a").First().Attribute(ctx, "href")
		if err != nil {
			return nil, fmt.Errorf("read in-game content link: %w", err)
		}
		offers = append(offers, domain.Offer{
			Title: strings.TrimSpace(title),
			Game:  strings.TrimSpace(game),
			Kind:  domain.OfferKindInGameContent,
			URL:   platformOrigin + href,
			Store: domain.StoreDLC,
		})
	}
	return offers, nil
}

// ReturnToList navigates back to the home page and reopens tab.
func (c *Catalog) ReturnToList(ctx context.Context, tab Tab) error {
	return returnToList(ctx, c.s, tab)
}

func returnToList(ctx context.Context, s automation.Surface, tab Tab) error {
	if err := s.Navigate(ctx, URLClaim); err != nil {
		return fmt.Errorf("return to offer list: %w", err)
	}
	if err := s.Locate(tab.selector()).Click(ctx); err != nil {
		return fmt.Errorf("open %s tab: %w", tab, err)
	}
	return nil
}

func (c *Catalog) scrollToEnd(ctx context.Context) error {
	if err := c.s.PressKey(ctx, "End"); err != nil {
		return fmt.Errorf("scroll offer list: %w", err)
	}
	if err := c.s.WaitForNetworkIdle(ctx); err != nil {
		return fmt.Errorf("wait for offer list: %w", err)
	}
	return sleep(ctx, c.Settle)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
