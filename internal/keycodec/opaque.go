package keycodec

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

// Opaque key format: UFO-XXXXXXXXXXXX-XXXX (hex, uppercase), optionally
// carrying a numeric disambiguation suffix after collision retries.
var keyPattern = regexp.MustCompile(`^UFO-[0-9A-F]{12}-[0-9A-F]{4}(-[0-9]+)?$`)

// maxGenerateAttempts bounds collision retries before falling back to a
// monotonic counter suffix
const maxGenerateAttempts = 5

// Opaque generates random branded key strings. The registry remains the
// source of truth for keys produced this way.
type Opaque struct {
	counter atomic.Uint64
}

// NewOpaque creates a new opaque key generator
func NewOpaque() *Opaque {
	return &Opaque{}
}

// Generate returns a fresh key string. The exists callback reports whether
// a candidate already lives in the registry; colliding candidates are
// retried a bounded number of times, then deterministically disambiguated
// with a counter suffix.
func (o *Opaque) Generate(exists func(string) bool) (string, error) {
	var last string
	for i := 0; i < maxGenerateAttempts; i++ {
		k, err := randomKey()
		if err != nil {
			return "", err
		}
		if exists == nil || !exists(k) {
			return k, nil
		}
		last = k
	}
	return fmt.Sprintf("%s-%d", last, o.counter.Add(1)), nil
}

func randomKey() (string, error) {
	body := make([]byte, 6)
	if _, err := rand.Read(body); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	tail := make([]byte, 2)
	if _, err := rand.Read(tail); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return fmt.Sprintf("UFO-%X-%X", body, tail), nil
}

// Validate reports whether a string has the opaque key shape
func Validate(s string) bool {
	return keyPattern.MatchString(s)
}

// Normalize canonicalizes a client-supplied key string for lookup
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
