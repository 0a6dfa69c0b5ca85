package capture

import "fmt"

// ConfigError reports a configuration problem detected before any
// device is touched or any worker spawned.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid capture configuration: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid capture configuration: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BatchError reports the first camera, in device order, whose capture
// cycle failed during a batch read.
type BatchError struct {
	Index   int
	Outcome Outcome
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("failed to read frame from camera %d: %s: %v", e.Index, e.Outcome, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
