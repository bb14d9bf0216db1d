package domain

import "time"

// ClaimStatus is the persisted state of a claimed offer.
type ClaimStatus string

const (
	ClaimStatusClaimed             ClaimStatus = "claimed"
	ClaimStatusRedeemed            ClaimStatus = "claimed_and_redeemed"
	ClaimStatusRedeemedUnconfirmed ClaimStatus = "claimed_and_redeemed_unconfirmed"
	ClaimStatusFailedNeedsLinking  ClaimStatus = "failed_needs_linking"
)

// Store values used for offers that are not redeemed on an external storefront.
const (
	StoreInternal = "internal"
	StoreDLC      = "DLC"
)

// ClaimRecord is one entry of a user's claim ledger, keyed by offer title.
type ClaimRecord struct {
	Title  string      `json:"title" bson:"title"`
	Time   time.Time   `json:"time" bson:"time"`
	URL    string      `json:"url,omitempty" bson:"url,omitempty"`
	Store  string      `json:"store,omitempty" bson:"store,omitempty"`
	Status ClaimStatus `json:"status,omitempty" bson:"status,omitempty"`
	Code   string      `json:"code,omitempty" bson:"code,omitempty"`
}

// IsFailure reports whether the status records a failed claim.
func (s ClaimStatus) IsFailure() bool {
	return s == ClaimStatusFailedNeedsLinking
}

// Valid reports whether s is one of the known statuses.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimStatusClaimed, ClaimStatusRedeemed, ClaimStatusRedeemedUnconfirmed, ClaimStatusFailedNeedsLinking:
		return true
	}
	return false
}
