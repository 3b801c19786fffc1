package manager

import "errors"

var (
	ErrNoSession = errors.New("no active session")

	ErrDisabled = errors.New("sdk is disabled while opted out")
)
