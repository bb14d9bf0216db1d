/**
 * @description
 * Offer models discovered on the gaming platform. An offer is either claimed
 * entirely on the platform, claimed there and fulfilled on an external store,
 * or in-game content (DLC) for a game on some external launcher.
 */
package domain

import "github.com/rencire/free-games-claimer/internal/automation"

// OfferKind distinguishes how an offer is fulfilled.
type OfferKind string

const (
	OfferKindInternal      OfferKind = "internal"
	OfferKindExternal      OfferKind = "external"
	OfferKindInGameContent OfferKind = "in_game_content"
)

// Offer is one claimable item found on the platform.
type Offer struct {
	Title string    `json:"title"`
	Kind  OfferKind `json:"kind"`
	URL   string    `json:"url,omitempty"`
	// Game is only set for in-game content.
	Game string `json:"game,omitempty"`
	// Store is resolved while processing external offers.
	Store string `json:"store,omitempty"`
	// Collected is true when the platform already marks the offer as claimed.
	Collected bool `json:"collected"`
	// Card is the live card element of an internal offer. It is not persisted.
	Card automation.Element `json:"-"`
}

// Key returns the idempotence key of the offer in the claim ledger.
// In-game content is keyed by "<game> - <title>" since DLC titles repeat across games.
func (o Offer) Key() string {
	if o.Kind == OfferKindInGameContent && o.Game != "" {
		return o.Game + " - " + o.Title
	}
	return o.Title
}
