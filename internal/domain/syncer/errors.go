package syncer

import "errors"

// ErrNoHandle is returned when a single-user sync has no GitHub handle.
var ErrNoHandle = errors.New("user has no github handle")
