package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/credential"
	"github.com/rhuss/chorus/pkg/storage"
)

// HTTPStatusFromError maps an APIError type to an HTTP status. Branch
// failures never fail a round, so the backend kinds only reach a response
// when they occur before the round starts; they all map to 502.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeMissingCredential:
		return http.StatusFailedDependency
	case api.ErrorTypeTransport, api.ErrorTypeProtocol, api.ErrorTypeBackendRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsAPIError maps an error returned by a round service, the archive or the
// credential store onto the API error taxonomy. Missing rounds and missing
// credentials become not_found; a cancelled or expired context is
// classified like a branch failure.
func AsAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, credential.ErrNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		typ, msg := api.Classify(err)
		return &api.APIError{Type: typ, Message: msg}
	default:
		return api.NewServerError(err.Error())
	}
}

// WriteErrorResponse writes apiErr wrapped in an api.ErrorResponse.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes apiErr with the status derived from its type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteError classifies err with AsAPIError and writes it.
func WriteError(w http.ResponseWriter, err error) {
	WriteAPIError(w, AsAPIError(err))
}
