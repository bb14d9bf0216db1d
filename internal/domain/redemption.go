package domain

// RedemptionAction classifies the result of submitting a code to an external store.
type RedemptionAction string

const (
	RedemptionRedeemed            RedemptionAction = "redeemed"
	RedemptionRedeemedUnconfirmed RedemptionAction = "redeemed_unconfirmed"
	RedemptionAlreadyRedeemed     RedemptionAction = "already_redeemed"
	RedemptionNotFound            RedemptionAction = "not_found"
	RedemptionCaptchaBlocked      RedemptionAction = "captcha_blocked"
	RedemptionNotImplemented      RedemptionAction = "not_implemented"
	RedemptionLoginRequired       RedemptionAction = "login_required"
)

// RedemptionOutcome is what a store protocol reports back for one code.
type RedemptionOutcome struct {
	Action    RedemptionAction `json:"action"`
	Code      string           `json:"code"`
	RedeemURL string           `json:"redeem_url"`
}

// Label is the short text shown for the action in notifications.
func (a RedemptionAction) Label() string {
	switch a {
	case RedemptionRedeemed:
		return "redeemed"
	case RedemptionRedeemedUnconfirmed:
		return "redeemed?"
	case RedemptionAlreadyRedeemed:
		return "already redeemed"
	case RedemptionNotFound:
		return "redeem (not found)"
	case RedemptionCaptchaBlocked:
		return "redeem (got captcha)"
	case RedemptionLoginRequired:
		return "redeem (login)"
	default:
		return "redeem"
	}
}

// ClaimStatus maps the action onto the ledger status of the claimed offer.
// Only a confirmed redemption upgrades the record; ambiguous responses keep their own status.
func (a RedemptionAction) ClaimStatus() ClaimStatus {
	switch a {
	case RedemptionRedeemed:
		return ClaimStatusRedeemed
	case RedemptionRedeemedUnconfirmed:
		return ClaimStatusRedeemedUnconfirmed
	default:
		return ClaimStatusClaimed
	}
}
