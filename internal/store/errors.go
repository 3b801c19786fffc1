package store

import "errors"

var (
	ErrNotFound = errors.New("record not found")

	ErrMessageTooLarge = errors.New("message exceeds maximum size")

	ErrDuplicateSession = errors.New("session is already open")
)
