// Package common defines shared constants and sentinel errors used across
// the gateway's packages. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrorNotFound          = errors.New("not found")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrMissingKey          = errors.New("record has no primary key")
	ErrUnknownCollection   = errors.New("unknown collection")
	ErrUnknownIndex        = errors.New("unknown index")
	ErrNotAutoIncrementing = errors.New("collection does not auto-assign keys")
	ErrInvalidRecord       = errors.New("invalid record")

	// Coordinator errors.
	ErrUnknownMessage = errors.New("unknown control message")
	ErrNotActive      = errors.New("cache coordinator is not active")

	// Network errors.
	ErrOffline      = errors.New("upstream unreachable")
	ErrBodyTooLarge = errors.New("body too large")
)
