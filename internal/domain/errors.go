package domain

import "errors"

// Domain errors
var (
	ErrInvalidDrinkingGame = errors.New("invalid drinking game payload")
	ErrUnknownStream       = errors.New("unknown event stream")
	ErrChannelClosed       = errors.New("event channel closed")
	ErrSourceUnavailable   = errors.New("data source unavailable")
	ErrNotReady            = errors.New("synchronizer not started")
)
