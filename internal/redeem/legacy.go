package redeem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rencire/free-games-claimer/internal/automation"
	"github.com/rencire/free-games-claimer/internal/domain"
)

const legacyConfirmation = `h2:has-text("Thanks for redeeming")`

type legacyProtocol struct {
	logger *slog.Logger
	email  string
}

// Redeem submits the coupon form and waits for the confirmation heading. The order
// may have gone through even when the heading does not show up, so a failed wait is
// reported as unconfirmed.
func (p *legacyProtocol) Redeem(ctx context.Context, s automation.Surface, code string) (domain.RedemptionAction, error) {
	if p.email == "" {
		return "", errors.New("legacy games email is not configured")
	}

	if err := s.Locate("[name=coupon_code]").Fill(ctx, code); err != nil {
		return "", fmt.Errorf("fill coupon code: %w", err)
	}
	if err := s.Locate("[name=email]").Fill(ctx, p.email); err != nil {
		return "", fmt.Errorf("fill email: %w", err)
	}
	if err := s.Locate("[name=email_validate]").Fill(ctx, p.email); err != nil {
		return "", fmt.Errorf("fill email confirmation: %w", err)
	}
	if err := s.Locate("[name=newsletter_sub]").SetChecked(ctx, false); err != nil {
		return "", fmt.Errorf("uncheck newsletter: %w", err)
	}
	if err := s.Locate(`[type="submit"]`).Click(ctx); err != nil {
		return "", fmt.Errorf("submit coupon: %w", err)
	}

	if err := s.WaitForSelector(ctx, legacyConfirmation); err != nil {
		p.logger.Warn("no legacy games confirmation; check manually", "code", code, "error", err)
		return domain.RedemptionRedeemedUnconfirmed, nil
	}
	p.logger.Info("redeemed successfully", "code", code)
	return domain.RedemptionRedeemed, nil
}
