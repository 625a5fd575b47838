package controller

import (
	"context"
	"errors"
)

// ChargerID names a charging output
type ChargerID string

const (
	Wallbox ChargerID = "wallbox"
	Vehicle ChargerID = "vehicle"
)

// ApplyStatus is the outcome of writing a power level to a charger
type ApplyStatus string

const (
	StatusApplied  ApplyStatus = "applied"
	StatusRejected ApplyStatus = "rejected"
	StatusTimeout  ApplyStatus = "timeout"
)

// ApplyResult reports one hardware write
type ApplyResult struct {
	Charger ChargerID
	Watts   int
	Status  ApplyStatus
	Err     error
}

// Applier writes a non-negative charging power to a charger.
// Implementations must return within the context deadline.
type Applier interface {
	Apply(ctx context.Context, charger ChargerID, watts int) ApplyResult
}

// ResultFromError classifies err as applied, timeout or rejected
func ResultFromError(charger ChargerID, watts int, err error) ApplyResult {
	r := ApplyResult{Charger: charger, Watts: watts, Status: StatusApplied, Err: err}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		r.Status = StatusTimeout
	default:
		r.Status = StatusRejected
	}
	return r
}

// ErrTimeout is returned by appliers whose write was not acknowledged in time
var ErrTimeout = errors.New("apply timed out")
