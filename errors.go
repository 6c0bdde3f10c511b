package applogger

import "errors"

var (
	// ErrInvalidConfig is returned by Start when the token, app name or host is missing.
	ErrInvalidConfig = errors.New("applogger: invalid configuration")
	// ErrNotEnabled is returned by Start when no valid session could be obtained.
	ErrNotEnabled = errors.New("applogger: not enabled")

	ErrAlreadyStarted = errors.New("applogger: already started")
	ErrNoSession      = errors.New("applogger: no active session")
	ErrSessionBusy    = errors.New("applogger: session handshake already in progress")
	ErrClosed         = errors.New("applogger: client closed")
)
