package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import "errors"

var (
	// ErrSessionNotFound means no session is registered under the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotReady means the session exists but is not in the Ready state.
	ErrSessionNotReady = errors.New("session not ready")
	// ErrAlreadyExists is returned by Create when the id is already registered.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrInvalidSessionID means a caller-supplied id cannot name a credential directory.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrConnectorInit wraps a single failed initialisation attempt.
	ErrConnectorInit = errors.New("connector initialisation failed")
	// ErrConnectorInitExhausted means every allowed initialisation attempt failed.
	ErrConnectorInitExhausted = errors.New("connector initialisation attempts exhausted")
)
