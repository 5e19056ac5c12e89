package repo

import "errors"

// ErrNotFound is returned by Take when the nonce was never stored, has
// already been taken, or was evicted by its TTL.
var ErrNotFound = errors.New("state token not found")
