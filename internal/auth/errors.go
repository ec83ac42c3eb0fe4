package auth

import "errors"

// Sentinel errors returned by the session layer. Callers should use
// errors.Is for comparison.
var (
	// ErrAuthenticationFailed covers every rejected sign-in, sign-up, or
	// reconnect attempt. The wire protocol does not distinguish "wrong
	// password" from "unknown user" from "node key mismatch" — collapsing
	// them here avoids leaking which part of a credential was wrong.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	// ErrUserDisabled is returned when the user account exists but is not
	// of the expected type for the attempted sign-in method.
	ErrUserDisabled = errors.New("auth: user account not usable for this sign-in method")

	// ErrGoogleTokenInvalid is returned when a Google ID token fails issuer,
	// signature, or expiry verification.
	ErrGoogleTokenInvalid = errors.New("auth: google id token invalid")

	// ErrPasswordAlreadySet names an account that already has a password.
	// No function in this package returns it: sign-up against such an
	// account with a non-matching password returns ErrAuthenticationFailed.
	ErrPasswordAlreadySet = errors.New("auth: account already has a password")

	// ErrTokenExpired names an expired access token. No function in this
	// package returns it.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid names a token that cannot be parsed or verified. No
	// function in this package returns it.
	ErrTokenInvalid = errors.New("auth: token invalid")
)
