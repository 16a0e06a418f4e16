package fetcher

import (
	"errors"
	"strings"
)

// ToolError wraps a non-zero fetch tool exit with its stderr text, which is
// the only failure-classification signal the tool provides.
type ToolError struct {
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Stderr
}

func (e *ToolError) Unwrap() error { return e.Err }

// permanentMarkers are stderr fragments for items that will never succeed:
// deleted, private, or blocked content. These become permanent failure
// records and are excluded from all automatic re-attempts.
var permanentMarkers = []string{
	"video unavailable",
	"private video",
	"this video has been removed",
	"account associated with this video has been terminated",
	"video is not available",
	"copyright",
}

// authMarkers are stderr fragments pointing at the credential rather than
// the item; they feed the credential pool's failure counters.
var authMarkers = []string{
	"sign in to confirm",
	"cookies are no longer valid",
	"members-only",
	"join this channel",
	"http error 403",
	"unable to download api page",
}

// IsPermanentFailure reports whether the error marks the item as
// unrecoverable. Anything else is treated as temporary and eligible for
// backfill retries.
func IsPermanentFailure(err error) bool {
	return matchesAny(err, permanentMarkers)
}

// IsAuthFailure reports whether the error points at the credential.
func IsAuthFailure(err error) bool {
	return matchesAny(err, authMarkers)
}

func matchesAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	var toolErr *ToolError
	text := err.Error()
	if errors.As(err, &toolErr) {
		text = toolErr.Stderr
	}
	text = strings.ToLower(text)
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
