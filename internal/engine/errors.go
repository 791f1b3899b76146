package engine

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/tegami/internal/model"
)

// ErrNoEligibleCompanies is returned by StartWriter when no company in the
// run's latest output meets the caller's match threshold.
var ErrNoEligibleCompanies = errors.New("engine: no companies meet the match threshold")

// StageError reports that an entire stage's agent failed. The run is marked
// failed before this is returned; it carries the stage and root cause for
// the caller.
type StageError struct {
	Stage model.Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("engine: %s stage failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }
