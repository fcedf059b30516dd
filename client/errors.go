package feast

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned once the refresh path is exhausted: the
// original request got a 401 and the refresh call either failed or produced no
// usable token. The session controller handles it centrally (forced logout);
// call sites don't need to special-case it beyond errors.Is.
var ErrUnauthenticated = errors.New("feast: unauthenticated")

// NetworkError reports that no response reached the client at all (DNS,
// connect, timeout). Distinct from APIError so callers can tell "server said
// no" from "could not reach server".
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("feast: network error during %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is any non-2xx response from the server, passed through without
// retry (401 excepted, which the client handles via refresh).
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feast: api error: status %d: %s", e.Status, truncate(e.Body, 200))
}

// AsAPIError unwraps err into an *APIError if there is one in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNetworkError reports whether err stems from a transport-level failure.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
