package barrel

import (
	"errors"
	"fmt"
)

var (
	// ErrNoListener is sent to a responder when nothing matched a message.
	ErrNoListener = errors.New("no matching listener registered")

	// ErrHandlerFailed is the generic failure a responder receives when a
	// listener returns an error or panics. The cause goes to the error
	// handler, never to the responder.
	ErrHandlerFailed = errors.New("internal error")

	ErrAlreadyResponded = errors.New("already responded")
	ErrNoResponder      = errors.New("event has no responder")

	ErrServiceName    = errors.New("service name is required")
	ErrServiceEmpty   = errors.New("service actions or requests are required")
	ErrServiceOverlap = errors.New("service action is also a request")
	ErrUnknownService = errors.New("unknown service")
	ErrUnknownAction  = errors.New("unknown service action")

	ErrInvalidCron      = errors.New("invalid cron expression")
	ErrSchedulerRunning = errors.New("scheduler already running")
	ErrSchedulerStopped = errors.New("scheduler stopped")

	ErrNoSource = errors.New("no source matched message")
)

// OverlapError names an action registered as both a local action and a
// request.
type OverlapError struct {
	Service string
	Name    string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("service %s: %q is both an action and a request", e.Service, e.Name)
}

func (e *OverlapError) Is(target error) bool { return target == ErrServiceOverlap }

// PanicError is a recovered listener panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("listener panic: %v", e.Value) }

// HTTPError is an outbound request that failed. Body holds the decoded
// response body when the server sent one.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   any
	Err    error
}

func (e *HTTPError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	case e.Body != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Reported is what an error handler should surface: the response body when
// there is one, the transport error otherwise.
func (e *HTTPError) Reported() any {
	if e.Body != nil {
		return e.Body
	}
	if e.Err != nil {
		return e.Err
	}
	return e.Status
}

// unmarshalError wraps a failed decode of a bound listener's value.
type unmarshalError struct {
	err error
}

func (e *unmarshalError) Error() string { return "unmarshal value: " + e.err.Error() }
func (e *unmarshalError) Unwrap() error { return e.err }

// validationError wraps a failed Validate on a bound listener's value.
type validationError struct {
	err error
}

func (e *validationError) Error() string { return "validate value: " + e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }
