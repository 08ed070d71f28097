package metastore

import "errors"

// ErrCorrupt reports a metadata store snapshot that failed its decode or
// length checks. Callers should use errors.Is(err, ErrCorrupt).
var ErrCorrupt = errors.New("metastore corrupt")

// ErrIncompatible reports a VERSION file that does not match the version
// this build understands. Callers should use errors.Is(err, ErrIncompatible).
var ErrIncompatible = errors.New("metastore incompatible version")

// ErrBusy reports that the store's write lock is held by another writer
// (in this process or another). Callers should use errors.Is(err, ErrBusy).
var ErrBusy = errors.New("metastore busy")

// ErrClosed reports an operation attempted on a closed Store.
var ErrClosed = errors.New("metastore closed")
