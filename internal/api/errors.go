package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-meet/internal/meeting"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

// NewValidationError is a bad request that tells the caller what was wrong.
func NewValidationError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    err.Error(),
		Err:        err,
	}
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    err.Error(),
		Err:        err,
	}
}

func NewTooManyRequestsError() *ApiError {
	return newApiError(http.StatusTooManyRequests)
}

func NewServiceUnavailableError() *ApiError {
	return newApiError(http.StatusServiceUnavailable)
}

// errorFromMeeting maps an error returned by the meeting to an ApiError.
func errorFromMeeting(err error) *ApiError {
	switch {
	case errors.Is(err, meeting.ErrEmptyMessage),
		errors.Is(err, meeting.ErrInvalidMessage),
		errors.Is(err, meeting.ErrInvalidUsername):
		return NewValidationError(err)
	case errors.Is(err, meeting.ErrNotHost):
		return NewForbiddenError()
	case errors.Is(err, meeting.ErrSessionActive),
		errors.Is(err, meeting.ErrSessionInactive):
		return NewConflictError(err)
	case errors.Is(err, meeting.ErrClosed):
		return NewServiceUnavailableError()
	default:
		return NewInternalServerError(err)
	}
}
