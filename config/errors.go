package config

import "errors"

// ErrInvalidConfig is returned when a setting is out of range or unknown.
var ErrInvalidConfig = errors.New("invalid config")
