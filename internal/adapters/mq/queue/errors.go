package queue

import "errors"

// Sentinel kinds for enqueue failures.
var (
	ErrClosed    = errors.New("queue closed")
	ErrFull      = errors.New("queue full")
	ErrDuplicate = errors.New("sync already pending for user")
)
