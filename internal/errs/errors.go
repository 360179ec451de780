package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/vibetracker/pkg/log"
)

type ErrorType int

const (
	// Decode marks a malformed capture payload. The frame is skipped.
	Decode ErrorType = iota
	// Submission marks a batch the remote service rejected.
	Submission
	// JobFailed marks a remote job reported as failed or missing. Never retried.
	JobFailed
	// PollTimeout marks a job whose polling attempts ran out.
	PollTimeout
	Config
	Network
	Unknown
)

func (t ErrorType) String() string {
	switch t {
	case Decode:
		return "Decode"
	case Submission:
		return "Submission"
	case JobFailed:
		return "JobFailed"
	case PollTimeout:
		return "PollTimeout"
	case Config:
		return "Config"
	case Network:
		return "Network"
	default:
		return "Unknown"
	}
}

type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(errorType ErrorType, format string, args ...any) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	e := New(errorType, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsType reports whether any error in err's chain is an *Error of the given type.
func IsType(err error, errorType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

// TypeOf returns the type of the first *Error in err's chain, or Unknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return Unknown
}

type Handler interface {
	Handle(err error) bool
	Advice(err *Error) string
}

type logHandler struct{}

// NewLogHandler returns a Handler that logs errors with remediation advice.
func NewLogHandler() Handler {
	return logHandler{}
}

func (h logHandler) Handle(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		log.Error("Unknown error: %v", err)
		return false
	}
	log.Error("%v | advice: %s", err, h.Advice(e))
	return true
}

func (logHandler) Advice(err *Error) string {
	switch err.Type {
	case Decode:
		return "the capture source sent a payload that is not a base64 data URI; the frame was skipped"
	case Submission:
		return "check the API key and the analysis service status; the batch was dropped"
	case JobFailed:
		return "the remote job failed or no longer exists; the batch results are lost"
	case PollTimeout:
		return "results were not ready within the attempt limit; raise POLL_MAX_ATTEMPTS or POLL_INTERVAL"
	case Config:
		return "check environment variables and the JSON config file"
	case Network:
		return "check network connectivity to the analysis service"
	default:
		return "review the error details"
	}
}
