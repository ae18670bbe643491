package apperr

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid png signature")
	ErrTruncatedChunk   = errors.New("truncated chunk")
	ErrNoCardPayload    = errors.New("no card payload")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
)
