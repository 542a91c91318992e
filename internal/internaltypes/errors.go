// Package internaltypes holds error values shared by layers that must not
// import each other.
package internaltypes

import "errors"

var (
	// ErrUnauthorized rejects an API call without a valid bearer token.
	ErrUnauthorized = errors.New("missing or invalid API token")

	// ErrNotFound is aliased by reservation.ErrNotFound.
	ErrNotFound = errors.New("not found")
)
