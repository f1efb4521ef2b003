package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/ufohubx/keyserver/internal/model"
)

type adminKeysResponse struct {
	OK    bool               `json:"ok"`
	Count int                `json:"count"`
	Keys  []*model.KeyRecord `json:"keys"`
}

// AdminListKeys handles GET /admin/keys, a debug listing of all records.
// It is disabled unless an admin token is configured, and the stateless
// registry has nothing to list.
func (h *Handler) AdminListKeys(w http.ResponseWriter, r *http.Request) {
	token := h.cfg.Keys.AdminToken
	if token == "" {
		http.NotFound(w, r)
		return
	}
	presented := r.Header.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"ok": false, "reason": "forbidden"})
		return
	}

	keys := h.reg.List()
	writeJSON(w, http.StatusOK, adminKeysResponse{OK: true, Count: len(keys), Keys: keys})
}
