package p4

import (
	"errors"
	"strings"
)

// Severity mirrors the server's message severity levels.
type Severity int

const (
	SeverityEmpty Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityFailed
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityFailed:
		return "failed"
	case SeverityFatal:
		return "fatal"
	default:
		return "empty"
	}
}

// Error is a failed or warning-level backend response.
type Error struct {
	Command  string
	Severity Severity
	Messages []string
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(strings.Join(e.Messages, "\n"))
	if msg == "" {
		msg = "command failed with severity " + e.Severity.String()
	}
	if e.Command == "" {
		return msg
	}
	return "[p4 " + e.Command + "] " + msg
}

// Contains reports whether any message contains substr.
func (e *Error) Contains(substr string) bool {
	if e == nil {
		return false
	}
	for _, msg := range e.Messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// IsUpToDate reports whether err is the benign "File(s) up-to-date." response
// the server sends for a sync with nothing to do.
func IsUpToDate(err error) bool {
	return errorContains(err, "up-to-date")
}

// IsNothingToResolve reports whether err is the "No file(s) to resolve." response.
func IsNothingToResolve(err error) bool {
	return errorContains(err, "No file(s) to resolve")
}

// IsNotOpened reports whether err is the "file(s) not opened" response to an
// empty opened listing.
func IsNotOpened(err error) bool {
	return errorContains(err, "not opened")
}

// IsConnectFailure reports whether err means the server could not be reached.
func IsConnectFailure(err error) bool {
	return errorContains(err, "Connect to server failed") || errorContains(err, "TCP connect to")
}

func errorContains(err error, substr string) bool {
	var p4Err *Error
	if errors.As(err, &p4Err) {
		return p4Err.Contains(substr)
	}
	return err != nil && strings.Contains(err.Error(), substr)
}
