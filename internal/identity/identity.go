package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMissingParameter is returned when a required identity field is absent.
// It is rejected at the request boundary before any registry access.
var ErrMissingParameter = errors.New("missing identity parameter")

// Identity is a stable, comparable requester reference. Explicit identities
// take the form "UID|PLACE"; derived ones are prefixed ("fp|", "dev|").
// Equality is exact string match after normalization.
type Identity string

const (
	fingerprintPrefix = "fp|"
	devicePrefix      = "dev|"
)

// maxDeviceIDLength bounds client-supplied device ids to prevent storage abuse
const maxDeviceIDLength = 64

// FromParams builds an explicit identity from uid and place query parameters.
// Both are required and non-empty after normalization.
func FromParams(uid, place string) (Identity, error) {
	u := normalizeField(uid)
	p := normalizeField(place)
	if u == "" || p == "" {
		return "", ErrMissingParameter
	}
	return Identity(u + "|" + p), nil
}

// UIDOnly builds a partial identity carrying only the uid. It is used by
// the extend path, where the place parameter is optional.
func UIDOnly(uid string) (Identity, error) {
	u := normalizeField(uid)
	if u == "" {
		return "", ErrMissingParameter
	}
	return Identity(u + "|"), nil
}

// Fingerprint derives an identity from the client IP and User-Agent.
// This is a best-effort anti-abuse signal: NAT-shared IPs collide and
// user agents can be spoofed. It is not an authentication mechanism.
func Fingerprint(clientIP, userAgent string) Identity {
	sum := sha256.Sum256([]byte(strings.TrimSpace(clientIP) + "|" + strings.TrimSpace(userAgent)))
	return Identity(fingerprintPrefix + hex.EncodeToString(sum[:16]))
}

// FromDeviceID builds an identity from a client-supplied opaque device id
func FromDeviceID(raw string) (Identity, error) {
	d := normalizeField(raw)
	if d == "" {
		return "", ErrMissingParameter
	}
	if len(d) > maxDeviceIDLength {
		d = d[:maxDeviceIDLength]
	}
	return Identity(devicePrefix + d), nil
}

// Matches reports whether a presented identity may act on a record bound
// to the given identity. A uid-only presentation matches any binding with
// the same uid.
func Matches(bound, presented Identity) bool {
	if bound == presented {
		return true
	}
	if uid, ok := strings.CutSuffix(string(presented), "|"); ok && !strings.Contains(uid, "|") {
		return strings.HasPrefix(string(bound), uid+"|")
	}
	return false
}

// Partial reports whether the identity carries only a uid (extend path)
func (i Identity) Partial() bool {
	return strings.HasSuffix(string(i), "|")
}

// UID returns the uid component of an explicit identity
func (i Identity) UID() string {
	uid, _, _ := strings.Cut(string(i), "|")
	return uid
}

func (i Identity) String() string {
	return string(i)
}

// normalizeField trims whitespace, strips non-alphanumeric characters, and
// uppercases for case-insensitive comparison
func normalizeField(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		}
	}
	return b.String()
}
