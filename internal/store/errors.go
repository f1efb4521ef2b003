package store

import "errors"

// ErrNotFound is returned when a key record does not exist
var ErrNotFound = errors.New("key record not found")
