package domain

import "errors"

// Fatal errors abort the whole run.
var (
	ErrNotSignedIn        = errors.New("not signed in and no credentials available for automatic login")
	ErrLoginFailed        = errors.New("login failed")
	ErrMembershipRequired = errors.New("user is not a prime member")
	ErrRunInProgress      = errors.New("another run holds the ledger lock for this user")
)

// ErrUnsupportedStore is returned when a redemption is requested for a store without a protocol.
var ErrUnsupportedStore = errors.New("redemption not implemented for store")
