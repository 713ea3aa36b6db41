package config

import "errors"

// Sentinel errors for configuration validation.
var (
	// ErrInvalidPreset indicates an unknown or malformed preset.
	ErrInvalidPreset = errors.New("invalid preset")

	// ErrInvalidConcurrency indicates a slot or job count out of range.
	ErrInvalidConcurrency = errors.New("concurrency setting out of range")

	// ErrInvalidDuration indicates a negative or zero duration where one is required.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrInvalidRetention indicates an unknown artifact retention policy.
	ErrInvalidRetention = errors.New("invalid retention policy")

	// ErrInvalidCache indicates a stage cache limit out of range.
	ErrInvalidCache = errors.New("cache limit out of range")

	// ErrInvalidFavorites indicates favorite detection settings out of range.
	ErrInvalidFavorites = errors.New("favorites configuration invalid")

	// ErrConfigRead indicates the config file exists but could not be read or parsed.
	ErrConfigRead = errors.New("failed to read config file")
)
