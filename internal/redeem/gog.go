package redeem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rencire/free-games-claimer/internal/automation"
	"github.com/rencire/free-games-claimer/internal/domain"
)

const gogRedeemAPI = "https://redeem.gog.com/"

type gogProtocol struct {
	logger *slog.Logger
}

// Redeem fills the code, continues, and reads the bonus code lookup:
// {"reason":"Invalid or no captcha"}, {"reason":"code_used"}, {"reason":"code_not_found"}.
// Anything else is taken as acceptance and the code is submitted; {} confirms it.
func (p *gogProtocol) Redeem(ctx context.Context, s automation.Surface, code string) (domain.RedemptionAction, error) {
	if err := s.Locate("#codeInput").Fill(ctx, code); err != nil {
		return "", fmt.Errorf("fill code: %w", err)
	}

	submit := s.Locate(`[type="submit"]`)
	lookup, err := s.ExpectResponse(ctx, automation.MatchRequest(http.MethodGet, gogRedeemAPI), func() error {
		return submit.Click(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("wait for code lookup: %w", err)
	}
	lookupBody, err := lookup.Text()
	if err != nil {
		return "", fmt.Errorf("read code lookup: %w", err)
	}

	var payload struct {
		Reason *string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(lookupBody), &payload); err != nil {
		p.logger.Warn("unparseable gog code lookup", "body", lookupBody, "error", err)
	}
	reason := ""
	if payload.Reason != nil {
		reason = *payload.Reason
	}

	switch {
	case strings.Contains(reason, "captcha"):
		p.logger.Error("got captcha; could not redeem", "code", code)
		return domain.RedemptionCaptchaBlocked, nil
	case reason == "code_used":
		p.logger.Info("code was already used", "code", code)
		return domain.RedemptionAlreadyRedeemed, nil
	case reason == "code_not_found":
		p.logger.Error("code was not found", "code", code)
		return domain.RedemptionNotFound, nil
	}

	p.logger.Debug("gog code lookup", "body", lookupBody)
	confirm, err := s.ExpectResponse(ctx, automation.MatchRequest(http.MethodPost, gogRedeemAPI), func() error {
		return submit.Click(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("wait for redeem confirmation: %w", err)
	}
	confirmBody, err := confirm.Text()
	if err != nil {
		return "", fmt.Errorf("read redeem confirmation: %w", err)
	}

	if isEmptyObject(confirmBody) {
		p.logger.Info("redeemed successfully", "code", code)
		return domain.RedemptionRedeemed, nil
	}
	p.logger.Warn("unknown gog redeem response; check manually", "code", code, "body", confirmBody)
	return domain.RedemptionRedeemedUnconfirmed, nil
}

func isEmptyObject(body string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &m); err != nil {
		return false
	}
	return m != nil && len(m) == 0
}
