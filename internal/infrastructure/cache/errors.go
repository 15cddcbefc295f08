package cache

import "errors"

// Sentinel errors for cache operations.
var (
	// ErrDisabled indicates Redis is disabled in configuration.
	ErrDisabled = errors.New("cache: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("cache: connection failed")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("cache: key cannot be empty")
)
