package openaicompat

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/provider"
)

// MapHTTPError converts an HTTP response with a non-2xx status code into
// a BackendRejected APIError, using the backend's own message when the body
// parses as a ChatErrorResponse.
func MapHTTPError(resp *http.Response) *api.APIError {
	return provider.MapHTTPError(resp, ExtractErrorMessage)
}

// ExtractErrorMessage tries to parse data as a ChatErrorResponse and
// returns the error message if found.
func ExtractErrorMessage(data []byte) string {
	var errResp ChatErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return ""
}
