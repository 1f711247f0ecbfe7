package api

import "net/http"

// AppError is the error body returned to clients: a bare JSON string such
// as "INVALID_BASE64". Failure detail never leaves the server.
type AppError string

// Errors returned by the API
const (
	ErrBadRequest          AppError = "BAD_REQUEST"
	ErrInvalidBase64       AppError = "INVALID_BASE64"
	ErrUnauthorized        AppError = "UNAUTHORIZED"
	ErrNotFound            AppError = "NOT_FOUND"
	ErrInternalServerError AppError = "INTERNAL_SERVER_ERROR"
)

func (e AppError) Error() string {
	return string(e)
}

// Status returns the HTTP status code for e
func (e AppError) Status() int {
	switch e {
	case ErrBadRequest, ErrInvalidBase64:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
