package store

import (
	"context"

	"github.com/ufohubx/keyserver/internal/model"
)

// Store persists key records. The registry owns all in-memory state and
// treats the store as its durability layer: Load rebuilds state at process
// start, Put and Delete mirror every mutation.
type Store interface {
	// Load returns all persisted records
	Load(ctx context.Context) ([]*model.KeyRecord, error)
	// Put inserts or replaces a record by key string
	Put(ctx context.Context, rec *model.KeyRecord) error
	// Delete removes a record by key string. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error
}
