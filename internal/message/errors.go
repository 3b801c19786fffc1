package message

import "errors"

var (
	ErrInvalidType = errors.New("invalid message type")

	ErrMissingKey = errors.New("message key not present")

	ErrMalformedMessage = errors.New("malformed message document")
)
