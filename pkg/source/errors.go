package source

import (
	"errors"
	"fmt"
	"time"
)

// ErrItemNotFound is returned when the endpoint answered successfully with an
// empty or null body: the id does not exist (yet). It is not a failure.
var ErrItemNotFound = errors.New("item not found")

// ErrorClass represents a classification of source errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a successful response with an unusable body.
	ErrorClassDecode ErrorClass = "decode"
)

// TransportError is a connectivity or timeout failure below the HTTP layer.
type TransportError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// SourceError is a non-success response, an unreadable body, or a wrapped
// TransportError. All source errors are retryable by the scheduler.
type SourceError struct {
	URL        string
	StatusCode int
	Class      ErrorClass
	Message    string

	// RetryAfter is the server-requested delay for rate_limit errors, if any.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s error (status %d) for %s: %s: %v",
			e.Class, e.StatusCode, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("source %s error (status %d) for %s: %s",
		e.Class, e.StatusCode, e.URL, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of a source error, or "" for anything else.
func ClassOf(err error) ErrorClass {
	var serr *SourceError
	if errors.As(err, &serr) {
		return serr.Class
	}
	return ""
}
