package jtp

import (
	"fmt"
	"net/http"
)

var (
	ErrBadRequest          = BadRequestError(nil)
	ErrNotFound            = NotFoundError(nil)
	ErrInternalServerError = InternalServerError(nil)
	ErrForbidden           = ForbiddenError(nil)
	ErrUnavailable         = UnavailableError(nil)
)

type HTTPError struct {
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (http status %d)", e.Err.Error(), e.StatusCode)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches HTTP errors by status code, so errors.Is(err, ErrNotFound)
// works for any 404 regardless of the wrapped error.
func (e *HTTPError) Is(target error) bool {
	if t, ok := target.(*HTTPError); ok {
		return e.StatusCode == t.StatusCode
	}
	return false
}

func BadRequestError(err error) *HTTPError {
	return &HTTPError{StatusCode: http.StatusBadRequest, Err: err}
}

func NotFoundError(err error) *HTTPError {
	return &HTTPError{StatusCode: http.StatusNotFound, Err: err}
}

func InternalServerError(err error) *HTTPError {
	return &HTTPError{StatusCode: http.StatusInternalServerError, Err: err}
}

func ForbiddenError(err error) *HTTPError {
	return &HTTPError{StatusCode: http.StatusForbidden, Err: err}
}

func UnavailableError(err error) *HTTPError {
	return &HTTPError{StatusCode: http.StatusServiceUnavailable, Err: err}
}
