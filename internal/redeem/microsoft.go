package redeem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rencire/free-games-claimer/internal/automation"
	"github.com/rencire/free-games-claimer/internal/domain"
)

const (
	microsoftLoginPrefix = "https://login."
	microsoftPurchaseAPI = "https://purchase.mp.microsoft.com/"
)

type microsoftProtocol struct {
	logger *slog.Logger
}

// Redeem enters the token and reads the purchase service lookup, e.g.
// {"code":"NotFound","innererror":{"code":"TokenNotFound"}}. Other lookups continue
// to the next step, which is reported as unconfirmed.
func (p *microsoftProtocol) Redeem(ctx context.Context, s automation.Surface, code string) (domain.RedemptionAction, error) {
	if strings.HasPrefix(s.URL(), microsoftLoginPrefix) {
		p.logger.Error("not logged in on microsoft; use the browser to login manually")
		return domain.RedemptionLoginRequired, nil
	}

	lookup, err := s.ExpectResponse(ctx, automation.MatchRequest("", microsoftPurchaseAPI), func() error {
		return s.Locate("[name=tokenString]").Fill(ctx, code)
	})
	if err != nil {
		return "", fmt.Errorf("wait for token lookup: %w", err)
	}
	body, err := lookup.Text()
	if err != nil {
		return "", fmt.Errorf("read token lookup: %w", err)
	}
	p.logger.Debug("microsoft token lookup", "body", body)

	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		p.logger.Warn("unparseable microsoft token lookup", "body", body, "error", err)
	}
	if payload.Code == "NotFound" {
		p.logger.Error("code was not found", "code", code)
		return domain.RedemptionNotFound, nil
	}

	if err := s.Locate("#nextButton").Click(ctx); err != nil {
		return "", fmt.Errorf("continue redemption: %w", err)
	}
	p.logger.Warn("redeemed on microsoft without confirmation; check manually", "code", code, "body", body)
	return domain.RedemptionRedeemedUnconfirmed, nil
}
