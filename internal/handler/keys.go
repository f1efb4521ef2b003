package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ufohubx/keyserver/internal/identity"
	"github.com/ufohubx/keyserver/internal/model"
	"github.com/ufohubx/keyserver/internal/registry"
	"github.com/ufohubx/keyserver/internal/store"
)

const keyNote = "Keep this key private. It is tied to your uid/place."

type issueResponse struct {
	OK        bool   `json:"ok"`
	Key       string `json:"key,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Note      string `json:"note,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type verifyResponse struct {
	OK        bool   `json:"ok"`
	Valid     bool   `json:"valid"`
	ExpiresAt int64  `json:"expires_at"`
	Reason    string `json:"reason,omitempty"`
}

type extendResponse struct {
	OK        bool   `json:"ok"`
	Key       string `json:"key,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Root answers the hosting provider's liveness probe
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "UFO HUB X Key Server: OK")
}

// requestIdentity derives the requester identity per the configured mode.
// Fingerprint mode prefers a client-supplied device id and falls back to
// hashing the client IP and User-Agent.
func (h *Handler) requestIdentity(r *http.Request, uid, place string) (identity.Identity, error) {
	if h.cfg.Keys.IdentityMode == "fingerprint" {
		if device := r.URL.Query().Get("device"); device != "" {
			return identity.FromDeviceID(device)
		}
		return identity.Fingerprint(getClientIP(r), r.UserAgent()), nil
	}
	return identity.FromParams(uid, place)
}

// GetKey handles GET /getkey?uid=&place=&ttl=
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid := q.Get("uid")
	place := q.Get("place")

	id, err := h.requestIdentity(r, uid, place)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, issueResponse{OK: false, Reason: "missing_uid_or_place"})
		return
	}

	var ttl time.Duration
	if sec, err := strconv.Atoi(q.Get("ttl")); err == nil && sec > 0 {
		ttl = time.Duration(sec) * time.Second
	}

	rec, err := h.reg.Issue(r.Context(), id, ttl)
	if err != nil {
		h.log.Error().Err(err).Str("identity", id.String()).Msg("issue failed")
		writeJSON(w, http.StatusInternalServerError, issueResponse{OK: false, Reason: "server_error"})
		return
	}

	writeJSON(w, http.StatusOK, issueResponse{
		OK:        true,
		Key:       rec.Key,
		ExpiresAt: rec.ExpiresAt.Unix(),
		Note:      keyNote,
	})
}

// Verify handles GET /verify?key=&uid=&place=&format=
// With format=json the outcome is a JSON document; otherwise a bare
// "VALID"/"INVALID" text body for script consumers.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	uid := q.Get("uid")
	place := q.Get("place")
	wantJSON := strings.EqualFold(q.Get("format"), "json")

	if strings.TrimSpace(key) == "" {
		h.respondVerify(w, wantJSON, model.VerifyResult{Reason: model.ReasonMissingParams})
		return
	}

	id, err := h.requestIdentity(r, uid, place)
	if err != nil {
		h.respondVerify(w, wantJSON, model.VerifyResult{Reason: model.ReasonMissingParams})
		return
	}

	res := h.reg.Verify(r.Context(), key, id)
	h.respondVerify(w, wantJSON, res)
}

func (h *Handler) respondVerify(w http.ResponseWriter, wantJSON bool, res model.VerifyResult) {
	if !wantJSON {
		if res.Valid {
			writeText(w, http.StatusOK, "VALID")
		} else {
			writeText(w, http.StatusOK, "INVALID")
		}
		return
	}

	expiresAt := res.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(h.cfg.Keys.DefaultTTL)
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		OK:        true,
		Valid:     res.Valid,
		ExpiresAt: expiresAt.Unix(),
		Reason:    res.Reason,
	})
}

// Extend handles GET /extend?key=&uid=&place=&sec=
// The place parameter is optional; ownership then matches on uid alone.
func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	uid := q.Get("uid")
	place := q.Get("place")

	if strings.TrimSpace(key) == "" {
		writeJSON(w, http.StatusOK, extendResponse{OK: false, Reason: model.ReasonMissingParams})
		return
	}

	var id identity.Identity
	var err error
	switch {
	case h.cfg.Keys.IdentityMode == "fingerprint":
		id, err = h.requestIdentity(r, uid, place)
	case place != "":
		id, err = identity.FromParams(uid, place)
	default:
		id, err = identity.UIDOnly(uid)
	}
	if err != nil {
		writeJSON(w, http.StatusOK, extendResponse{OK: false, Reason: model.ReasonMissingParams})
		return
	}

	var delta time.Duration
	if sec, err := strconv.Atoi(q.Get("sec")); err == nil && sec > 0 {
		delta = time.Duration(sec) * time.Second
	}

	res, err := h.reg.Extend(r.Context(), key, id, delta)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, extendResponse{OK: true, Key: res.Key, ExpiresAt: res.ExpiresAt.Unix()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, extendResponse{OK: false, Reason: model.ReasonNotFound})
	case errors.Is(err, registry.ErrAlreadyExpired):
		writeJSON(w, http.StatusOK, extendResponse{OK: false, Reason: "already_expired"})
	case errors.Is(err, registry.ErrNotOwner):
		writeJSON(w, http.StatusOK, extendResponse{OK: false, Reason: "bound_to_another_uid"})
	default:
		h.log.Error().Err(err).Str("identity", id.String()).Msg("extend failed")
		writeJSON(w, http.StatusInternalServerError, extendResponse{OK: false, Reason: "server_error"})
	}
}
