package middleware

import (
	"github.com/ufohubx/keyserver/internal/config"
	"github.com/ufohubx/keyserver/internal/database"
	"github.com/ufohubx/keyserver/internal/logger"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb *database.Redis
	log *logger.Logger
	cfg *config.Config
}

// New creates a new Middleware instance. rdb may be nil when Redis is not
// configured; rate limiting then passes everything through.
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb: rdb,
		log: log,
		cfg: cfg,
	}
}
