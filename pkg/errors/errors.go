package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrOwnerProtected     = errors.New("owner cannot be removed")
	ErrAlreadyWhitelisted = errors.New("user already whitelisted")
	ErrNotFound           = errors.New("not found")
	ErrDuplicateImage     = errors.New("image already exists")
	ErrEmptyCatalog       = errors.New("catalog is empty")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInternal           = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status code the HTTP transport should
// return for it. Unknown errors map to 500.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrEmptyCatalog):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateImage), errors.Is(err, ErrAlreadyWhitelisted):
		return http.StatusConflict
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrOwnerProtected):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
