package provider

import (
	"fmt"
	"slices"

	"github.com/rhuss/chorus/pkg/api"
)

// ValidateRequest checks whether the given request is compatible with the
// provider's declared capabilities. Returns an APIError identifying the
// specific unsupported feature, or nil if the request is compatible.
func ValidateRequest(caps ProviderCapabilities, req *ProviderRequest) *api.APIError {
	if req.Model == "" {
		return api.NewInvalidRequestError("model", "model is required")
	}

	if req.Stream && !caps.Streaming {
		return api.NewInvalidRequestError("stream",
			"the configured provider does not support streaming responses")
	}

	if len(caps.SupportedModels) > 0 && !slices.Contains(caps.SupportedModels, req.Model) {
		return api.NewInvalidRequestError("model",
			fmt.Sprintf("model %q is not served by this provider", req.Model))
	}

	if len(req.Messages) == 0 {
		return api.NewInvalidRequestError("messages", "at least one message is required")
	}

	return nil
}
