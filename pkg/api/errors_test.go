package api

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAPIErrorInterface(t *testing.T) {
	var _ error = &APIError{}
}

func TestAPIErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			"with param",
			&APIError{Type: ErrorTypeInvalidRequest, Param: "query", Message: "is required"},
			"invalid_request: is required (param: query)",
		},
		{
			"without param",
			&APIError{Type: ErrorTypeServerError, Message: "internal failure"},
			"server_error: internal failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("APIError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		wantType ErrorType
		wantCode string
	}{
		{"invalid request", NewInvalidRequestError("query", "is required"), ErrorTypeInvalidRequest, ""},
		{"not found", NewNotFoundError("target not found"), ErrorTypeNotFound, ""},
		{"server error", NewServerError("internal failure"), ErrorTypeServerError, ""},
		{"missing credential", NewMissingCredentialError(), ErrorTypeMissingCredential, ""},
		{"transport", NewTransportError("connection reset"), ErrorTypeTransport, ""},
		{"protocol", NewProtocolError("bad chunk"), ErrorTypeProtocol, ""},
		{"backend rejected", NewBackendRejectedError(429, "slow down"), ErrorTypeBackendRejected, "429"},
		{"backend rejected without status", NewBackendRejectedError(0, "refused"), ErrorTypeBackendRejected, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.err.Type, tt.wantType)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestMissingCredentialReason(t *testing.T) {
	if got := NewMissingCredentialError().Message; got != "no credential" {
		t.Errorf("Message = %q, want %q", got, "no credential")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantType   ErrorType
		wantReason string
	}{
		{"nil", nil, "", ""},
		{"transport", NewTransportError("timeout"), ErrorTypeTransport, "timeout"},
		{"protocol", NewProtocolError("malformed chunk"), ErrorTypeProtocol, "malformed chunk"},
		{"backend", NewBackendRejectedError(401, "invalid api key"), ErrorTypeBackendRejected, "invalid api key"},
		{"missing credential", NewMissingCredentialError(), ErrorTypeMissingCredential, "no credential"},
		{"wrapped", fmt.Errorf("relay: %w", NewProtocolError("bad json")), ErrorTypeProtocol, "bad json"},
		{"non-branch api error", NewServerError("boom"), ErrorTypeTransport, "boom"},
		{"context cancelled", context.Canceled, ErrorTypeTransport, "cancelled"},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), ErrorTypeTransport, "timeout"},
		{"plain", errors.New("connection refused"), ErrorTypeTransport, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotReason := Classify(tt.err)
			if gotType != tt.wantType {
				t.Errorf("type = %q, want %q", gotType, tt.wantType)
			}
			if gotReason != tt.wantReason {
				t.Errorf("reason = %q, want %q", gotReason, tt.wantReason)
			}
		})
	}
}

func TestIsBranchFailure(t *testing.T) {
	for _, et := range []ErrorType{ErrorTypeMissingCredential, ErrorTypeTransport, ErrorTypeProtocol, ErrorTypeBackendRejected} {
		if !IsBranchFailure(et) {
			t.Errorf("IsBranchFailure(%q) = false, want true", et)
		}
	}
	for _, et := range []ErrorType{ErrorTypeServerError, ErrorTypeInvalidRequest, ErrorTypeNotFound} {
		if IsBranchFailure(et) {
			t.Errorf("IsBranchFailure(%q) = true, want false", et)
		}
	}
}
