package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an error response body is read.
const maxErrorBody = 4 << 10

var ErrIncompleteAuth = errors.New("auth response is missing username or token")

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Message    string
	Method     string
	Path       string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsAuthRejection reports whether err is a 401 or 403 from the API.
func IsAuthRejection(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

// AuthError is a failed login or registration. Message is what the server
// said, or a generic fallback when it said nothing usable.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%v)", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Message:    serverMessage(body),
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
	}
}

// serverMessage extracts the human readable part of an error body. The
// backend answers with http.Error plain text; {"error": "..."} is accepted
// too.
func serverMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			if payload.Error != "" {
				return payload.Error
			}
			return payload.Message
		}
	}
	return trimmed
}
