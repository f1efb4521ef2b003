// Package keyclient is a small Go SDK for the UFO HUB X key server.
// It wraps the /getkey, /verify, and /extend endpoints and ships an
// net/http middleware for backends that gate routes on a valid key.
package keyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds the configuration for the key server client.
type Config struct {
	// BaseURL is the root URL of the key server.
	// Example: "https://keys.example.com"
	BaseURL string

	// CacheTTL controls how long successful verifications are cached in
	// memory to reduce calls to the key server. Set to 0 to disable caching.
	// Default: 2 minutes
	CacheTTL time.Duration

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 10s timeout is used.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.CacheTTL == 0 {
		c.CacheTTL = 2 * time.Minute
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Key is an issued key together with its expiry.
type Key struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"-"`
	Note      string    `json:"note,omitempty"`
}

// VerifyOutcome is the adjudication result for a key.
type VerifyOutcome struct {
	Valid     bool
	ExpiresAt time.Time
	// Reason is the server's failure reason, empty when valid
	Reason string
}

// Client is the key server SDK client.
type Client struct {
	cfg   Config
	cache *verifyCache
}

// NewClient creates a new key server client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:   cfg,
		cache: newVerifyCache(),
	}
}

type issueEnvelope struct {
	OK        bool   `json:"ok"`
	Key       string `json:"key"`
	ExpiresAt int64  `json:"expires_at"`
	Note      string `json:"note"`
	Reason    string `json:"reason"`
}

type verifyEnvelope struct {
	OK        bool   `json:"ok"`
	Valid     bool   `json:"valid"`
	ExpiresAt int64  `json:"expires_at"`
	Reason    string `json:"reason"`
}

type extendEnvelope struct {
	OK        bool   `json:"ok"`
	Key       string `json:"key"`
	ExpiresAt int64  `json:"expires_at"`
	Reason    string `json:"reason"`
}

// GetKey requests (or re-requests) the key for the given uid and place.
// Repeated calls return the same key while it remains active.
func (c *Client) GetKey(ctx context.Context, uid, place string) (*Key, error) {
	q := url.Values{"uid": {uid}, "place": {place}}

	var env issueEnvelope
	status, err := c.getJSON(ctx, "/getkey", q, &env)
	if err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, reasonError(status, env.Reason)
	}

	return &Key{
		Key:       env.Key,
		ExpiresAt: time.Unix(env.ExpiresAt, 0),
		Note:      env.Note,
	}, nil
}

// Verify checks a key against the server. Successful outcomes are cached
// according to CacheTTL; denials are never cached.
func (c *Client) Verify(ctx context.Context, key, uid, place string) (*VerifyOutcome, error) {
	if key == "" {
		return nil, ErrNoKey
	}

	if c.cfg.CacheTTL > 0 {
		if out, ok := c.cache.get(cacheKey(key, uid, place)); ok {
			return out, nil
		}
	}

	q := url.Values{"key": {key}, "uid": {uid}, "place": {place}, "format": {"json"}}

	var env verifyEnvelope
	status, err := c.getJSON(ctx, "/verify", q, &env)
	if err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, reasonError(status, env.Reason)
	}

	out := &VerifyOutcome{
		Valid:     env.Valid,
		ExpiresAt: time.Unix(env.ExpiresAt, 0),
		Reason:    env.Reason,
	}
	if out.Valid && c.cfg.CacheTTL > 0 {
		c.cache.put(cacheKey(key, uid, place), out, c.cfg.CacheTTL)
	}
	return out, nil
}

// Extend adds time to an active key. The seconds argument is clamped
// server-side; pass 0 for the server's default step. The returned key may
// differ from the input when the server runs a stateless codec, so callers
// must adopt it.
func (c *Client) Extend(ctx context.Context, key, uid string, seconds int) (*Key, error) {
	if key == "" {
		return nil, ErrNoKey
	}

	q := url.Values{"key": {key}, "uid": {uid}}
	if seconds > 0 {
		q.Set("sec", strconv.Itoa(seconds))
	}

	var env extendEnvelope
	status, err := c.getJSON(ctx, "/extend", q, &env)
	if err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, reasonError(status, env.Reason)
	}

	c.cache.invalidate(key)
	return &Key{
		Key:       env.Key,
		ExpiresAt: time.Unix(env.ExpiresAt, 0),
	}, nil
}

// Health reports whether the key server answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Reason: "unhealthy"}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("keyclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("keyclient: failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("keyclient: unexpected response %d: %s", resp.StatusCode, body)
	}
	return resp.StatusCode, nil
}

func cacheKey(key, uid, place string) string {
	return key + "\x00" + uid + "\x00" + place
}

// verifyCache caches successful verifications to keep hot paths off the
// network. Entries expire after the configured TTL or the key's own expiry,
// whichever comes first.
type verifyCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	out     *VerifyOutcome
	expires time.Time
}

func newVerifyCache() *verifyCache {
	return &verifyCache{entries: make(map[string]cacheEntry)}
}

func (c *verifyCache) get(k string) (*VerifyOutcome, bool) {
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.out, true
}

func (c *verifyCache) put(k string, out *VerifyOutcome, ttl time.Duration) {
	expires := time.Now().Add(ttl)
	if out.ExpiresAt.Before(expires) {
		expires = out.ExpiresAt
	}

	c.mu.Lock()
	c.entries[k] = cacheEntry{out: out, expires: expires}
	c.mu.Unlock()
}

// invalidate drops every cached outcome for the given key string
func (c *verifyCache) invalidate(key string) {
	prefix := key + "\x00"

	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
