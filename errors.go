package glass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrNoCredentials is returned when the last credential has been invalidated.
var ErrNoCredentials = errors.New("no usable credentials left")

// ErrLiveMode is returned when a batch is requested for an unbounded mode.
var ErrLiveMode = errors.New("live modes cannot be collected as a batch")

// ErrorClass is the closed set of failure categories the orchestration layer
// reacts to.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassRateLimited
	ClassUnauthorized
	ClassTransient
	ClassUnavailable
	ClassStreamStale
	ClassNotFound
	ClassSuspended
	ClassDisconnected
	ClassTimedOut
)

var classNames = map[ErrorClass]string{
	ClassUnknown:      "unknown",
	ClassRateLimited:  "rate limited",
	ClassUnauthorized: "unauthorized",
	ClassTransient:    "transient network",
	ClassUnavailable:  "service unavailable",
	ClassStreamStale:  "stream stale",
	ClassNotFound:     "not found",
	ClassSuspended:    "suspended",
	ClassDisconnected: "disconnected",
	ClassTimedOut:     "timed out",
}

func (c ErrorClass) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// PlatformError is a platform failure already mapped onto the taxonomy.
type PlatformError struct {
	Class ErrorClass
	Code  int // platform error code, 0 when none was reported
	Err   error
}

// NewPlatformError wraps err with class.
func NewPlatformError(class ErrorClass, code int, err error) *PlatformError {
	return &PlatformError{Class: class, Code: code, Err: err}
}

func (e *PlatformError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d): %v", e.Class, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Classify maps any error onto the taxonomy. Errors that were not
// reclassified at the platform boundary are judged by their type.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimedOut
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ClassTimedOut
		}
		return ClassTransient
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return ClassTransient
	}
	return ClassUnknown
}

// Skip reasons reported for collection targets that yield nothing.
const (
	ReasonNotFound  = "NOTFOUND"
	ReasonSuspended = "SUSPENDED"
	ReasonProtected = "PROTECTED"
)

// SubjectError reports that a collection target cannot be collected. It is
// informational: the run continues with the next target.
type SubjectError struct {
	Subject string
	Reason  string
	Err     error
}

func (e *SubjectError) Error() string {
	return fmt.Sprintf("subject %s skipped: %s", e.Subject, e.Reason)
}

func (e *SubjectError) Unwrap() error { return e.Err }

// reasonFor maps a subject class onto its skip reason.
func reasonFor(class ErrorClass) string {
	if class == ClassSuspended {
		return ReasonSuspended
	}
	return ReasonNotFound
}
