package keyclient

import (
	"net/http"
)

// MiddlewareConfig configures the RequireKey middleware.
type MiddlewareConfig struct {
	// Skipper defines a function to skip this middleware for certain
	// requests. Return true to skip key verification for the request.
	Skipper func(r *http.Request) bool

	// Extractor is an optional custom function to extract the key and
	// requester identity from a request. If nil, the default extractor
	// reads the "key", "uid", and "place" query parameters, accepting the
	// key from a bearer Authorization header as well.
	Extractor func(r *http.Request) (key, uid, place string)

	// ErrorHandler is an optional custom handler for verification
	// failures. If nil, a JSON 401 body carrying the failure reason is
	// written.
	ErrorHandler func(w http.ResponseWriter, r *http.Request, out *VerifyOutcome, err error)
}

// RequireKey returns middleware that rejects requests without a valid key.
// It is meant for community backends that sit behind the key server and
// want the same gate as the game scripts.
func (c *Client) RequireKey(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Extractor == nil {
		cfg.Extractor = defaultExtractor
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skipper != nil && cfg.Skipper(r) {
				next.ServeHTTP(w, r)
				return
			}

			key, uid, place := cfg.Extractor(r)
			if key == "" {
				cfg.ErrorHandler(w, r, nil, ErrNoKey)
				return
			}

			out, err := c.Verify(r.Context(), key, uid, place)
			if err != nil {
				cfg.ErrorHandler(w, r, nil, err)
				return
			}
			if !out.Valid {
				cfg.ErrorHandler(w, r, out, ErrInvalidKey)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func defaultExtractor(r *http.Request) (string, string, string) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			key = auth[7:]
		}
	}
	return key, q.Get("uid"), q.Get("place")
}

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, out *VerifyOutcome, err error) {
	reason := "invalid_key"
	if out != nil && out.Reason != "" {
		reason = out.Reason
	} else if err == ErrNoKey {
		reason = "missing_key"
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"ok":false,"reason":"` + reason + `"}`))
}
