package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ufohubx/keyserver/internal/config"
	"github.com/ufohubx/keyserver/internal/database"
	"github.com/ufohubx/keyserver/internal/logger"
	"github.com/ufohubx/keyserver/internal/registry"
)

// Handler holds all HTTP handlers
type Handler struct {
	log *logger.Logger
	cfg *config.Config
	reg *registry.Registry
	db  *database.Postgres
	rdb *database.Redis
}

// New creates a new Handler instance. db and rdb may be nil when the
// corresponding backend is not configured.
func New(log *logger.Logger, cfg *config.Config, reg *registry.Registry, db *database.Postgres, rdb *database.Redis) *Handler {
	return &Handler{
		log: log,
		cfg: cfg,
		reg: reg,
		db:  db,
		rdb: rdb,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
