package domain

import "errors"

// Command failures returned synchronously to callers. All of them except
// ErrStoreUnavailable mean the caller acted on a stale view and must re-read
// current state before retrying; retrying the same arguments will fail again.
var (
	ErrWrongStatus      = errors.New("operation not valid in current status")
	ErrNotOwner         = errors.New("actor does not own this table")
	ErrAlreadyClaimed   = errors.New("table already claimed")
	ErrAlreadyPaid      = errors.New("line already paid")
	ErrEmptyOrder       = errors.New("order has no lines")
	ErrNotFound         = errors.New("entity not found")
	ErrOffShift         = errors.New("no active shift for staff member")
	ErrStoreUnavailable = errors.New("entity store unavailable")
)

// IsValidation reports whether err is a terminal validation failure, i.e.
// one that must not be retried with the same arguments.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrWrongStatus, ErrNotOwner, ErrAlreadyClaimed,
		ErrAlreadyPaid, ErrEmptyOrder, ErrNotFound, ErrOffShift,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsStoreUnavailable reports whether err is a transient infrastructure
// failure, the only class eligible for transparent retry with backoff.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
