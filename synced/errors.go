package synced

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnsupported = errors.New("operation not supported by service")
	ErrRateLimited = errors.New("rate limited")
)

// StatusError is returned for any non-2xx response of a service API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request %s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func statusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// IsMaybeExists reports whether err is a 400 answer, which services return
// when a create collides with an existing object.
func IsMaybeExists(err error) bool {
	return statusCode(err) == http.StatusBadRequest
}
