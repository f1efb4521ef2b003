package model

import (
	"time"
)

// Verification failure reasons returned to clients. These are expected
// business outcomes, not errors.
const (
	ReasonNotFound         = "not_found"
	ReasonExpired          = "expired"
	ReasonIdentityMismatch = "identity_mismatch"
	ReasonMissingParams    = "missing_params"
	ReasonExhausted        = "exhausted"
)

// KeyRecord represents one issued, non-allow-listed key
type KeyRecord struct {
	ID  string `json:"id"`
	Key string `json:"key"`
	// Identity is the bound requester identity. Empty until the key is
	// claimed on first successful verification.
	Identity  string    `json:"identity,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	// Reusable keys always verify and silently refresh their expiry
	Reusable bool `json:"reusable,omitempty"`
	Uses     int  `json:"uses,omitempty"`
	// MaxUses is the verification ceiling (0 = unlimited)
	MaxUses int `json:"maxUses,omitempty"`
}

// IsExpired reports whether the record has passed its expiry at the given time
func (r *KeyRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Exhausted reports whether the record has hit its usage ceiling
func (r *KeyRecord) Exhausted() bool {
	return r.MaxUses > 0 && r.Uses >= r.MaxUses
}

// VerifyResult is the adjudication outcome for a verification request
type VerifyResult struct {
	Valid     bool
	ExpiresAt time.Time
	// Reason is a short machine-readable failure reason, empty when valid
	Reason string
	// AllowListed marks allow-list bypass hits, which skip usage counting
	AllowListed bool
}

// ExtendResult is the outcome of a successful extension. Key normally
// equals the input key; the stateless codec re-mints, so it may differ.
type ExtendResult struct {
	Key       string
	ExpiresAt time.Time
}
