// Package auth issues and validates the bearer tokens that guard the HTTP
// control API. Tokens are HS256-signed JWTs naming the client as subject.
package auth
