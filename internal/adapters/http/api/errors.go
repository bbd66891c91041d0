package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dundeezhang/UWGitRank/internal/adapters/github"
	"github.com/dundeezhang/UWGitRank/internal/adapters/leaderboard"
	"github.com/dundeezhang/UWGitRank/internal/adapters/mq/queue"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/internal/domain/syncer"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBackpressure = errors.New("backpressure")
	ErrUnavailable  = errors.New("unavailable")
)

// Kind is the client-facing error code.
type Kind string

// Error kinds and the status they map to.
const (
	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalidToken Kind = "invalid_token"
	KindBackpressure Kind = "backpressure"
	KindUpstream     Kind = "upstream_error"
	KindUnavailable  Kind = "unavailable"
	KindTimeout      Kind = "timeout"
	KindInternal     Kind = "internal_error"
)

var kindStatus = map[Kind]int{
	KindBadRequest:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
	KindNotFound:     http.StatusNotFound,
	KindConflict:     http.StatusConflict,
	KindInvalidToken: http.StatusConflict,
	KindBackpressure: http.StatusTooManyRequests,
	KindUpstream:     http.StatusBadGateway,
	KindUnavailable:  http.StatusServiceUnavailable,
	KindTimeout:      http.StatusGatewayTimeout,
	KindInternal:     http.StatusInternalServerError,
}

// Error is an operation failure annotated with its client-facing kind.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// NewKind wraps a sentinel, classifying it like Wrap.
func NewKind(op string, sentinel error) *Error {
	return Wrap(op, sentinel)
}

// WrapKind wraps err with an explicit kind.
func WrapKind(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap wraps err and classifies it from the errors it matches.
func Wrap(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Op: op, Kind: e.Kind, Err: err}
	}
	return &Error{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	if v, ok := model.AsValidation(err); ok {
		switch v.Kind {
		case model.KindUnauthorized:
			return KindUnauthorized
		case model.KindNotFound:
			return KindNotFound
		case model.KindInvalidToken:
			return KindInvalidToken
		case model.KindNotEnoughParticipants:
			return KindConflict
		}
		return KindBadRequest
	}

	var fe *github.FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case github.KindNotFound:
			return KindNotFound
		case github.KindTransient:
			return KindUnavailable
		}
		return KindUpstream
	}

	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrInvalidWindow),
		errors.Is(err, leaderboard.ErrInvalidLimit),
		errors.Is(err, syncer.ErrNoHandle):
		return KindBadRequest
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrBackpressure), errors.Is(err, queue.ErrFull):
		return KindBackpressure
	case errors.Is(err, ErrUnavailable), errors.Is(err, queue.ErrClosed):
		return KindUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindInternal
}
