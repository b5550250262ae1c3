package upstream

import (
	"errors"
	"fmt"
)

// ErrAuthenticationExpired indicates the stored credential is invalid or
// expired. No automatic recovery is possible without new cookies.
var ErrAuthenticationExpired = errors.New("upstream authentication expired")

// ErrNotAuthenticated indicates no usable credential exists for the user.
var ErrNotAuthenticated = errors.New("no upstream credential for user")

// UpstreamError is a non-2xx response from the upstream service, surfaced
// verbatim. It is not retried at this layer; retries belong to higher layers.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream rejected request: status=%d body=%s", e.StatusCode, truncate(e.Body, 200))
}

// IsAuthFailure reports whether the rejection indicates expired credentials.
func (e *UpstreamError) IsAuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
