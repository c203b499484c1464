package raceconfig

import "errors"

// Error variables for configuration loading.
var (
	ErrConfigFileNotFound = errors.New("raceconfig: config file not found")
	ErrConfigFileRead     = errors.New("raceconfig: cannot read config file")
	ErrConfigInvalid      = errors.New("raceconfig: invalid config file")
	ErrStorageRootEmpty   = errors.New("raceconfig: storage_root cannot be empty")
	ErrMaxWaitInvalid     = errors.New("raceconfig: max_seconds_wait_for_lock must be positive")
)
