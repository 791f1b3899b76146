// Package tegami provides a Go client for the Tegami outreach pipeline API.
package tegami

import (
	"errors"
	"fmt"
)

// Error represents an error from the Tegami API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("tegami: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404. Runs are evicted after an
// idle TTL, so a run that existed earlier can legitimately return 404 later.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsNoEligibleCompanies returns true if outreach was rejected because no
// company cleared the match threshold. Lower MinMatch or re-run discovery
// at a deeper depth.
func IsNoEligibleCompanies(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "NO_ELIGIBLE_COMPANIES"
	}
	return false
}

// IsConflict returns true if the error is a 409.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 409
	}
	return false
}

// IsResumeUnparseable returns true if the uploaded document yielded no text.
func IsResumeUnparseable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "RESUME_UNPARSEABLE"
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}
