package push

import "errors"

var (
	ErrDuplicateBehavior = errors.New("push behavior conflicts with stored behavior")

	ErrExpired = errors.New("push message is expired")

	ErrInvalidMessage = errors.New("push message is not valid")
)
