// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Error classes handlers wrap domain errors into before responding.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrValidation    = errors.New("validation failed")
	ErrUnprocessable = errors.New("unprocessable")
	ErrUnavailable   = errors.New("temporarily unavailable")
)

type class struct {
	err    error
	status int
	title  string
}

var classes = []class{
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ErrNotFound, http.StatusNotFound, "Not Found"},
	{ErrUnprocessable, http.StatusUnprocessableEntity, "Unprocessable"},
	{ErrUnavailable, http.StatusServiceUnavailable, "Unavailable"},
}

// StatusOf returns the response status for err; unclassified errors are 500.
func StatusOf(err error) int {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// RespondError writes err as an RFC7807 problem. Internal errors hide their detail.
func RespondError(w http.ResponseWriter, err error) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			Problem(w, c.status, c.title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
