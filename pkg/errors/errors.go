package chat_errors

import (
	"errors"
)

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNoCredential       = errors.New("no credential")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrNotConnected       = errors.New("transport not connected")
	ErrAlreadyStarted     = errors.New("already started")
	ErrClosed             = errors.New("closed")
	ErrHistoryBusy        = errors.New("history load already in flight")
	ErrMalformedPayload   = errors.New("malformed payload")
)
