package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrSessionExpired is returned when a 401 could not be recovered by a token
// refresh. Both tokens have been cleared by the time a caller sees it.
var ErrSessionExpired = errors.New("session expired")

// errNoRefreshToken is the cause attached to ErrSessionExpired when there was
// nothing to refresh with.
var errNoRefreshToken = errors.New("no refresh token")

// NetworkError means no HTTP response was received.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a response the server rejected with a 4xx/5xx status.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message())
}

// Message extracts a human-readable message from the response body. It
// understands {"error": "..."}, {"detail": "..."}, {"message": "..."} and
// {"error": {"message": "..."}}, and falls back to the raw body or the status
// text.
func (e *HTTPError) Message() string {
	var body map[string]any
	if err := json.Unmarshal(e.Body, &body); err == nil {
		for _, k := range []string{"error", "detail", "message"} {
			switch v := body[k].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}
	if s := strings.TrimSpace(string(e.Body)); s != "" {
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		return s
	}
	return http.StatusText(e.Status)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not an
// *HTTPError.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
