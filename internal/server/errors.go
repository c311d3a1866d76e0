// Package server defines the recoverable error kinds surfaced to clients as
// named failure events.
package server

import "github.com/pkg/errors"

// The error text doubles as the user-facing failure message sent over the
// wire, so it is written as a complete sentence.
var (
	// ErrNameTaken is returned by signup when another active identity
	// already holds the requested username.
	ErrNameTaken = errors.New("Username already taken.")

	// ErrIdentityNotFound is returned by signin when no active identity
	// matches the requested username.
	ErrIdentityNotFound = errors.New("Username not found.")

	// ErrRecipientUnreachable is returned when a message targets a username
	// with no live connection. The message is not stored.
	ErrRecipientUnreachable = errors.New("Recipient is not connected.")
)
