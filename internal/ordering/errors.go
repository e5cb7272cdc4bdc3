package ordering

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrPersistenceFault = errors.New("persistence fault")
)

// FaultError reports a store failure during a reorder. When Partial is set
// some writes were applied and the stored order must be re-read before the
// next edit.
type FaultError struct {
	FailedIDs []string
	Partial   bool
	Err       error
}

func (e *FaultError) Error() string {
	var b strings.Builder
	b.WriteString(ErrPersistenceFault.Error())
	if len(e.FailedIDs) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.FailedIDs, ", "))
	}
	if e.Partial {
		b.WriteString(": order partially applied")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FaultError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPersistenceFault}
	}
	return []error{ErrPersistenceFault, e.Err}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
