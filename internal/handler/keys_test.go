package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ufohubx/keyserver/internal/config"
	"github.com/ufohubx/keyserver/internal/handler"
	"github.com/ufohubx/keyserver/internal/logger"
	"github.com/ufohubx/keyserver/internal/middleware"
	"github.com/ufohubx/keyserver/internal/registry"
	"github.com/ufohubx/keyserver/internal/router"
	"github.com/ufohubx/keyserver/internal/store"
)

// Response envelopes as clients see them on the wire.
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

type adminKeysEnvelope struct {
	OK    bool              `json:"ok"`
	Count int               `json:"count"`
	Keys  []json.RawMessage `json:"keys"`
}

type testEnv struct {
	srv *httptest.Server
}

func testConfig() *config.Config {
	return &config.Config{
		Log: config.LogConfig{Level: "disabled", Format: "json"},
		Keys: config.KeysConfig{
			DefaultTTL:   48 * time.Hour,
			ExtendStep:   5 * time.Hour,
			ExtendMax:    5 * time.Hour,
			IdentityMode: "explicit",
			Codec:        "opaque",
			RateLimit:    config.RateLimitConfig{Enabled: false},
		},
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	reg, err := registry.New(context.Background(), store.NewMemory(), registry.Options{
		DefaultTTL: cfg.Keys.DefaultTTL,
		ExtendStep: cfg.Keys.ExtendStep,
		ExtendMax:  cfg.Keys.ExtendMax,
		MaxUses:    cfg.Keys.MaxUses,
		AllowKeys:  cfg.Keys.AllowKeys,
	}, log)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	h := handler.New(log, cfg, reg, nil, nil)
	mw := middleware.New(nil, log, cfg)
	srv := httptest.NewServer(router.New(h, mw, log, cfg))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv}
}

func (e *testEnv) get(t *testing.T, path string, header http.Header) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	return out
}

func (e *testEnv) issueKey(t *testing.T, uid, place string) issueEnvelope {
	t.Helper()
	resp, body := e.get(t, "/getkey?uid="+uid+"&place="+place, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("getkey status = %d, body %s", resp.StatusCode, body)
	}
	return decode[issueEnvelope](t, body)
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.get(t, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(body) != "UFO HUB X Key Server: OK" {
		t.Fatalf("body = %q", body)
	}
}

func TestGetKeyMissingParams(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/getkey", "/getkey?uid=42", "/getkey?place=100"} {
		resp, body := env.get(t, path, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", path, resp.StatusCode)
		}
		out := decode[issueEnvelope](t, body)
		if out.OK || out.Reason != "missing_uid_or_place" {
			t.Fatalf("%s: got %+v", path, out)
		}
	}
}

func TestGetKeyIssuesAndRepeats(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.issueKey(t, "42", "100")
	if !first.OK || first.Key == "" || first.Note == "" {
		t.Fatalf("issue response incomplete: %+v", first)
	}
	if !strings.HasPrefix(first.Key, "UFO-") {
		t.Fatalf("key shape: %q", first.Key)
	}
	if first.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expires_at not in the future: %d", first.ExpiresAt)
	}

	second := env.issueKey(t, "42", "100")
	if second.Key != first.Key {
		t.Fatalf("repeat getkey minted a new key: %q vs %q", second.Key, first.Key)
	}

	other := env.issueKey(t, "99", "100")
	if other.Key == first.Key {
		t.Fatal("different uid received the same key")
	}
}

func TestVerifyTextFormat(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := env.issueKey(t, "42", "100")

	resp, body := env.get(t, "/verify?key="+issued.Key+"&uid=42&place=100", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "VALID" {
		t.Fatalf("status = %d, body = %q", resp.StatusCode, body)
	}

	// failures are still HTTP 200 with an INVALID body
	for _, path := range []string{
		"/verify?key=" + issued.Key + "&uid=99&place=100",
		"/verify?key=UFO-000000000000-0000&uid=42&place=100",
		"/verify?uid=42&place=100",
		"/verify?key=" + issued.Key,
	} {
		resp, body := env.get(t, path, nil)
		if resp.StatusCode != http.StatusOK || string(body) != "INVALID" {
			t.Fatalf("%s: status = %d, body = %q", path, resp.StatusCode, body)
		}
	}
}

func TestVerifyJSONFormat(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := env.issueKey(t, "42", "100")

	resp, body := env.get(t, "/verify?format=json&key="+issued.Key+"&uid=42&place=100", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decode[verifyEnvelope](t, body)
	if !out.OK || !out.Valid || out.Reason != "" {
		t.Fatalf("got %+v", out)
	}
	if out.ExpiresAt != issued.ExpiresAt {
		t.Fatalf("expires_at = %d, want %d", out.ExpiresAt, issued.ExpiresAt)
	}

	resp, body = env.get(t, "/verify?format=json&key=UFO-000000000000-0000&uid=42&place=100", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out = decode[verifyEnvelope](t, body)
	if out.Valid || out.Reason != "not_found" {
		t.Fatalf("got %+v", out)
	}
	// even denials carry a plausible expiry for lenient clients
	if out.ExpiresAt == 0 {
		t.Fatal("denial missing expires_at fallback")
	}

	_, body = env.get(t, "/verify?format=json&key="+issued.Key+"&uid=99&place=100", nil)
	if out := decode[verifyEnvelope](t, body); out.Valid || out.Reason != "identity_mismatch" {
		t.Fatalf("got %+v", out)
	}

	_, body = env.get(t, "/verify?format=json&key="+issued.Key, nil)
	if out := decode[verifyEnvelope](t, body); out.Valid || out.Reason != "missing_params" {
		t.Fatalf("got %+v", out)
	}
}

func TestVerifyAllowList(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Keys.AllowKeys = []string{"FREEPASS"}
	})

	// allow-listed tokens verify for any identity without issuance
	resp, body := env.get(t, "/verify?key=freepass&uid=0&place=0", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "VALID" {
		t.Fatalf("status = %d, body = %q", resp.StatusCode, body)
	}
}

func TestVerifyResponseHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.get(t, "/verify?key=x&uid=42&place=100", nil)
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("Cache-Control = %q", cc)
	}
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", origin)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestExtendAddsTime(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := env.issueKey(t, "42", "100")

	resp, body := env.get(t, "/extend?key="+issued.Key+"&uid=42&sec=3600", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	out := decode[extendEnvelope](t, body)
	if !out.OK || out.Key != issued.Key {
		t.Fatalf("got %+v", out)
	}
	if want := issued.ExpiresAt + 3600; out.ExpiresAt != want {
		t.Fatalf("expires_at = %d, want %d", out.ExpiresAt, want)
	}
}

func TestExtendClampsToMax(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := env.issueKey(t, "42", "100")

	// 24h requested, 5h configured max
	_, body := env.get(t, "/extend?key="+issued.Key+"&uid=42&sec=86400", nil)
	out := decode[extendEnvelope](t, body)
	if want := issued.ExpiresAt + 5*3600; out.ExpiresAt != want {
		t.Fatalf("expires_at = %d, want %d", out.ExpiresAt, want)
	}
}

func TestExtendFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := env.issueKey(t, "42", "100")

	resp, body := env.get(t, "/extend?key=UFO-000000000000-0000&uid=42", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out := decode[extendEnvelope](t, body); out.OK || out.Reason != "not_found" {
		t.Fatalf("got %+v", out)
	}

	resp, body = env.get(t, "/extend?key="+issued.Key+"&uid=99", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out := decode[extendEnvelope](t, body); out.OK || out.Reason != "bound_to_another_uid" {
		t.Fatalf("got %+v", out)
	}

	resp, body = env.get(t, "/extend?uid=42", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out := decode[extendEnvelope](t, body); out.OK || out.Reason != "missing_params" {
		t.Fatalf("got %+v", out)
	}

	resp, body = env.get(t, "/extend?key="+issued.Key, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out := decode[extendEnvelope](t, body); out.OK || out.Reason != "missing_params" {
		t.Fatalf("got %+v", out)
	}
}

func TestFingerprintModeIgnoresParams(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Keys.IdentityMode = "fingerprint"
	})

	header := http.Header{"User-Agent": {"Roblox/WinInet"}, "X-Forwarded-For": {"203.0.113.7"}}

	resp, body := env.get(t, "/getkey", header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	issued := decode[issueEnvelope](t, body)
	if !issued.OK || issued.Key == "" {
		t.Fatalf("got %+v", issued)
	}

	// same client fingerprint verifies without uid/place
	resp, body = env.get(t, "/verify?key="+issued.Key, header)
	if resp.StatusCode != http.StatusOK || string(body) != "VALID" {
		t.Fatalf("status = %d, body = %q", resp.StatusCode, body)
	}

	// a different client is rejected
	other := http.Header{"User-Agent": {"curl/8.0"}, "X-Forwarded-For": {"198.51.100.9"}}
	_, body = env.get(t, "/verify?key="+issued.Key, other)
	if string(body) != "INVALID" {
		t.Fatalf("body = %q", body)
	}
}

func TestDeviceIdentity(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Keys.IdentityMode = "fingerprint"
	})

	resp, body := env.get(t, "/getkey?device=pad-7", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	issued := decode[issueEnvelope](t, body)

	// device ids are portable across IPs
	header := http.Header{"X-Forwarded-For": {"198.51.100.9"}}
	resp, body = env.get(t, "/verify?key="+issued.Key+"&device=pad-7", header)
	if resp.StatusCode != http.StatusOK || string(body) != "VALID" {
		t.Fatalf("status = %d, body = %q", resp.StatusCode, body)
	}
}

func TestAdminKeys(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.get(t, "/admin/keys", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unguarded admin endpoint: status = %d", resp.StatusCode)
	}

	env = newTestEnv(t, func(cfg *config.Config) {
		cfg.Keys.AdminToken = "hunter2"
	})
	env.issueKey(t, "42", "100")

	resp, _ = env.get(t, "/admin/keys", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("missing token: status = %d", resp.StatusCode)
	}
	resp, _ = env.get(t, "/admin/keys", http.Header{"X-Admin-Token": {"wrong"}})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong token: status = %d", resp.StatusCode)
	}

	resp, body := env.get(t, "/admin/keys", http.Header{"X-Admin-Token": {"hunter2"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decode[adminKeysEnvelope](t, body)
	if !out.OK || out.Count != 1 || len(out.Keys) != 1 {
		t.Fatalf("got %+v", out)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.get(t, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	out := decode[handler.HealthResponse](t, body)
	if out.Status != "healthy" {
		t.Fatalf("status = %q", out.Status)
	}

	resp, body = env.get(t, "/ready", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("ready status = %d, body = %q", resp.StatusCode, body)
	}
}
