package model

import (
	"errors"
	"fmt"
)

// ValidationKind classifies rejected community actions.
type ValidationKind string

// Validation kinds.
const (
	KindUnauthorized          ValidationKind = "unauthorized"
	KindInvalidPair           ValidationKind = "invalid_pair"
	KindNotEnoughParticipants ValidationKind = "not_enough_participants"
	KindSelfEndorsement       ValidationKind = "self_endorsement"
	KindInvalidToken          ValidationKind = "invalid_token"
	KindNotFound              ValidationKind = "not_found"
)

// ValidationError reports a request the domain refuses to apply.
type ValidationError struct {
	Kind   ValidationKind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches any ValidationError of the same kind, so wrapped errors with a
// more specific reason still compare equal to the sentinels below.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnauthorized          = &ValidationError{Kind: KindUnauthorized, Reason: "actor is not a verified user"}
	ErrInvalidPair           = &ValidationError{Kind: KindInvalidPair, Reason: "winner and loser must differ"}
	ErrNotEnoughParticipants = &ValidationError{Kind: KindNotEnoughParticipants, Reason: "fewer than two eligible users"}
	ErrSelfEndorsement       = &ValidationError{Kind: KindSelfEndorsement, Reason: "users cannot endorse themselves"}
	ErrInvalidToken          = &ValidationError{Kind: KindInvalidToken, Reason: "matchup token is invalid, expired or already used"}
	ErrNotFound              = &ValidationError{Kind: KindNotFound, Reason: "no such record"}

	ErrInvalidWindow = errors.New("invalid window")
)

// Validation builds a ValidationError of kind with a specific reason.
func Validation(kind ValidationKind, reason string) error {
	return &ValidationError{Kind: kind, Reason: reason}
}

// AsValidation extracts a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
