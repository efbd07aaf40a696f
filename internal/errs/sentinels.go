// Package errs contains sentinel errors shared by the session, monitoring
// and transport layers so HTTP and websocket code can map them stably.
package errs

import "errors"

var (
	// ErrUnknownSession indicates the session_key has no live registry entry.
	ErrUnknownSession = errors.New("unknown session")

	// ErrInvalidPhone indicates the phone number was rejected locally or by the remote service.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrRateLimited indicates the remote service or this server throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrSecondFactorRequired signals that sign-in must be completed with a password.
	ErrSecondFactorRequired = errors.New("second factor required")

	// ErrInvalidCode indicates the verification code was rejected.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrInvalidPassword indicates the second-factor password was rejected.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrAlreadyAuthorized is returned when sign-in is attempted on an authorized session.
	ErrAlreadyAuthorized = errors.New("session already authorized")

	// ErrUnauthorized indicates the session exists but has not completed sign-in.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired indicates the session outlived its TTL.
	ErrSessionExpired = errors.New("session expired")

	// ErrChannelResolution indicates a channel id could not be resolved to a remote entity.
	ErrChannelResolution = errors.New("channel resolution failed")

	// ErrSubscriptionTeardown indicates a watch could not be cancelled cleanly.
	ErrSubscriptionTeardown = errors.New("subscription teardown failed")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)
