package auth

import "errors"

// Errors returned when validating API bearer tokens. The auth middleware maps
// each of them to 401 Unauthorized.
var (
	// ErrInvalidToken is returned for any bearer token this server did not
	// issue or cannot parse.
	ErrInvalidToken = errors.New("invalid API bearer token")

	// ErrExpiredToken is returned once the token lifetime configured in
	// auth.token_lifetime_minutes has passed.
	ErrExpiredToken = errors.New("API bearer token has expired")

	// ErrTokenNotYetValid is returned for a token whose nbf is still ahead of the server clock.
	ErrTokenNotYetValid = errors.New("API bearer token not yet valid")

	// ErrMissingToken is returned when ValidateToken is given an empty string.
	ErrMissingToken = errors.New("API bearer token is missing")
)
