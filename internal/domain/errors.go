package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAmbiguousIdentity = errors.New("ambiguous match identity")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownBetType    = errors.New("unknown bet type")
	ErrLockHeld          = errors.New("lock already held")
	ErrContextDone       = errors.New("context cancelled")
)
