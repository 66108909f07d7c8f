package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/chorus/pkg/api"
)

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 4096

// MapHTTPStatus converts a non-2xx backend status into a BackendRejected
// APIError. message is the backend's own explanation, if one could be
// extracted; otherwise a generic message for the status is used.
func MapHTTPStatus(status int, message string) *api.APIError {
	if message == "" {
		switch {
		case status == http.StatusBadRequest:
			message = "invalid request to backend"
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			message = "backend authentication failed"
		case status == http.StatusNotFound:
			message = "backend resource not found"
		case status == http.StatusTooManyRequests:
			message = "backend rate limit exceeded"
		case status >= http.StatusInternalServerError:
			message = fmt.Sprintf("backend server error (HTTP %d)", status)
		default:
			message = fmt.Sprintf("unexpected backend error (HTTP %d)", status)
		}
	}
	return api.NewBackendRejectedError(status, message)
}

// MapHTTPError reads the body of a failed response and maps it with
// MapHTTPStatus. extract pulls the backend-specific message out of the
// body; it may be nil.
func MapHTTPError(resp *http.Response, extract func([]byte) string) *api.APIError {
	var message string
	if resp.Body != nil {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err == nil && len(data) > 0 && extract != nil {
			message = extract(data)
		}
	}
	return MapHTTPStatus(resp.StatusCode, message)
}

// MapNetworkError converts a network-level error (connection refused, timeout,
// DNS resolution failure) into a TransportError.
func MapNetworkError(err error) *api.APIError {
	if errors.Is(err, context.Canceled) {
		return api.NewTransportError("request cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return api.NewTransportError("timeout")
	}
	return api.NewTransportError(fmt.Sprintf("backend connection error: %s", err.Error()))
}

// Truncate limits a string to maxLen characters for log output.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Emit sends ev on ch unless ctx is done first. It reports whether the
// event was delivered.
func Emit(ctx context.Context, ch chan<- ProviderEvent, ev ProviderEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
