package queue

import "errors"

var (
	ErrNoCredentials = errors.New("api key and/or api secret are missing")

	ErrStoreUnavailable = errors.New("store is unavailable")

	ErrInvalidCommand = errors.New("invalid command payload")

	ErrSessionNotFound = errors.New("no open session for session id")

	ErrListAttribute = errors.New("attribute is a list and cannot be incremented")

	ErrNotNumeric = errors.New("attribute value is not a number")

	ErrStopped = errors.New("queue processor is stopped")

	ErrNotStarted = errors.New("queue processor is not started")
)
