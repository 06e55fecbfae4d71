package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/iambrandonn/coderloop/internal/supervisor"
)

var (
	// ErrSafetyDeclined means the user refused to run generated code. It
	// aborts the whole run.
	ErrSafetyDeclined = errors.New("user declined to run generated code")

	// ErrTooManyFailedBuilds means the repair budget is spent.
	ErrTooManyFailedBuilds = errors.New("too many failed builds")
)

// BuildFailure is one failed build attempt. It is recovered from by asking
// the oracle for a fix, until the budget runs out.
type BuildFailure struct {
	Attempt    int
	ExitCode   int
	Diagnostic string
}

func (f *BuildFailure) Error() string {
	return fmt.Sprintf("build attempt %d failed (exit %d): %s", f.Attempt, f.ExitCode, f.Diagnostic)
}

// IsFatal reports whether err must stop the whole run rather than just the
// agent that returned it.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSafetyDeclined),
		errors.Is(err, ErrTooManyFailedBuilds),
		errors.Is(err, supervisor.ErrProcess),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
