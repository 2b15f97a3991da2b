package media

import "fmt"

// ValidationError rejects an upload before anything is written.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid upload: " + e.Reason }

func rejectf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// PartialFailure records a derivative asset that could not be produced or stored.
// It is reported on the result; the upload itself still succeeds.
type PartialFailure struct {
	Asset string `json:"asset"`
	Err   error  `json:"-"`
}

func (p PartialFailure) Error() string { return fmt.Sprintf("%s: %v", p.Asset, p.Err) }

func (p PartialFailure) Unwrap() error { return p.Err }

// MarshalText lets PartialFailure serialize as its message inside results.
func (p PartialFailure) MarshalText() ([]byte, error) { return []byte(p.Error()), nil }
