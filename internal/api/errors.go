package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a non-2xx response from the server. Message carries the server's
// {"error": "..."} text verbatim so it can be shown to the player.
type Error struct {
	Status  int
	Message string
	Path    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d %s", e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s: %d %s", e.Path, e.Status, e.Message)
}

// Validation reports whether the server rejected the request itself (4xx)
// rather than failing to serve it.
func (e *Error) Validation() bool {
	return e.Status >= 400 && e.Status < 500
}

// Message extracts the user-facing message from err: the server text for an
// *Error, the error string otherwise.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsInsufficientResources reports whether a placement was refused because
// the settlement cannot afford it.
func IsInsufficientResources(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "insufficient resources")
}
