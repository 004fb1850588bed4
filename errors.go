package lmsauth

import "errors"

var (
	// ErrInvalidToken is returned by Login when the credential cannot be decoded.
	ErrInvalidToken = errors.New("invalid credential token")
	// ErrTokenExpired is returned by Login when the credential is already past its exp claim.
	ErrTokenExpired = errors.New("credential token expired")
	// ErrInvalidRole is returned when a role string is neither MEMBER/USER nor LIBRARIAN.
	ErrInvalidRole = errors.New("invalid role")
	// ErrStorageUnavailable wraps failures of the persisted credential store.
	ErrStorageUnavailable = errors.New("credential storage unavailable")
	// ErrManagerClosed is returned by Login after Close.
	ErrManagerClosed = errors.New("session manager closed")
	// ErrManagerNotReady is returned when a nil or unbuilt Manager is used.
	ErrManagerNotReady = errors.New("session manager not initialized")
	// ErrInvalidConfig wraps every Config.Validate failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)
