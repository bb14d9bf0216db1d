/**
 * @description
 * The redemption registry maps a normalized store name to the protocol that submits
 * a code on that store's own website. Stores outside the table are answered with
 * NotImplemented before any interaction with the store. Submissions are never
 * retried; responses that cannot be classified are reported as unconfirmed.
 */
package redeem

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rencire/free-games-claimer/internal/automation"
	"github.com/rencire/free-games-claimer/internal/domain"
)

// Store keys of the supported protocols.
const (
	StoreGOG       = "gog.com"
	StoreMicrosoft = "microsoft games"
	StoreLegacy    = "legacy games"
)

// Protocol submits one code on a store page that is already open on s.
type Protocol interface {
	Redeem(ctx context.Context, s automation.Surface, code string) (domain.RedemptionAction, error)
}

type entry struct {
	protocol   Protocol
	defaultURL string
}

// Registry dispatches redemptions by store name.
type Registry struct {
	entries map[string]entry
	logger  *slog.Logger
}

// NewRegistry creates the registry of supported stores. legacyEmail is the account
// email entered into the legacy games form.
func NewRegistry(logger *slog.Logger, legacyEmail string) *Registry {
	return &Registry{
		logger: logger,
		entries: map[string]entry{
			StoreGOG:       {protocol: &gogProtocol{logger: logger}, defaultURL: "https://www.gog.com/redeem"},
			StoreMicrosoft: {protocol: &microsoftProtocol{logger: logger}, defaultURL: "https://redeem.microsoft.com"},
			StoreLegacy:    {protocol: &legacyProtocol{logger: logger, email: legacyEmail}, defaultURL: "https://www.legacygames.com/primedeal"},
		},
	}
}

// NormalizeStore lower-cases and trims a store name into a registry key.
func NormalizeStore(store string) string {
	return strings.ToLower(strings.TrimSpace(store))
}

// Supports reports whether store has a redemption protocol.
func (r *Registry) Supports(store string) bool {
	_, ok := r.entries[NormalizeStore(store)]
	return ok
}

// DefaultURL returns the store's redemption page, or "" for unsupported stores.
func (r *Registry) DefaultURL(store string) string {
	return r.entries[NormalizeStore(store)].defaultURL
}

// Stores lists the supported store keys.
func (r *Registry) Stores() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Protocol returns the redemption protocol of store, or ErrUnsupportedStore.
func (r *Registry) Protocol(store string) (Protocol, error) {
	key := NormalizeStore(store)
	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedStore, key)
	}
	return e.protocol, nil
}

// Redeem opens redeemURL on s and submits code with the store's protocol.
// Unsupported stores yield NotImplemented without touching s.
func (r *Registry) Redeem(ctx context.Context, store, code, redeemURL string, s automation.Surface) (domain.RedemptionOutcome, error) {
	key := NormalizeStore(store)
	outcome := domain.RedemptionOutcome{Action: domain.RedemptionNotImplemented, Code: code, RedeemURL: redeemURL}

	protocol, err := r.Protocol(key)
	if err != nil {
		r.logger.Warn("skipping redemption", "store", key, "error", err)
		return outcome, nil
	}
	if outcome.RedeemURL == "" {
		outcome.RedeemURL = r.entries[key].defaultURL
	}

	r.logger.Info("trying to redeem code", "store", key, "code", code, "url", outcome.RedeemURL)
	if err := s.Navigate(ctx, outcome.RedeemURL); err != nil {
		return outcome, fmt.Errorf("open %s redeem page: %w", key, err)
	}

	action, err := protocol.Redeem(ctx, s, code)
	if err != nil {
		return outcome, fmt.Errorf("redeem on %s: %w", key, err)
	}
	outcome.Action = action
	return outcome, nil
}
