package conversation

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidCitation = errors.New("citation does not reference an extracted item")
)

const (
	ErrorCodeInvalidCitation = "INVALID_CITATION"
)
