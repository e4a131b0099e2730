package kb

import "errors"

var (
	// ErrInvalidTable indicates a channel table that cannot be installed.
	ErrInvalidTable = errors.New("invalid channel table")
	// ErrUnknownDomain indicates a domain with no channel table.
	ErrUnknownDomain = errors.New("no channel table for domain")
)
