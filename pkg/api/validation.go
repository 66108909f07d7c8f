package api

import (
	"fmt"
	"strings"
)

// MaxQuerySize bounds the length of a single user query in bytes.
const MaxQuerySize = 256 * 1024

// ValidateQuery checks a user query before it is dispatched.
func ValidateQuery(query string) *APIError {
	if strings.TrimSpace(query) == "" {
		return NewInvalidRequestError("query", "query must not be empty")
	}
	if len(query) > MaxQuerySize {
		return NewInvalidRequestError("query",
			fmt.Sprintf("query exceeds maximum size of %d bytes", MaxQuerySize))
	}
	return nil
}

// ValidateTarget checks a single target for required fields.
func ValidateTarget(t Target) *APIError {
	if t.ID == "" {
		return NewInvalidRequestError("id", "target id is required")
	}
	if t.ProviderID == "" {
		return NewInvalidRequestError("provider", fmt.Sprintf("target %q: provider is required", t.ID))
	}
	if t.ModelID == "" {
		return NewInvalidRequestError("model", fmt.Sprintf("target %q: model is required", t.ID))
	}
	if !t.Status.Valid() {
		return NewInvalidRequestError("status",
			fmt.Sprintf("target %q: status must be one of active, ready, inactive", t.ID))
	}
	return nil
}

// ValidateTargets checks a target set: every target must be valid, IDs must
// be unique, and at most one active target may be the aggregator.
func ValidateTargets(targets []Target) *APIError {
	seen := make(map[string]bool, len(targets))
	aggregator := ""
	for _, t := range targets {
		if err := ValidateTarget(t); err != nil {
			return err
		}
		if seen[t.ID] {
			return NewInvalidRequestError("id", fmt.Sprintf("duplicate target id %q", t.ID))
		}
		seen[t.ID] = true

		if t.IsAggregator && t.Active() {
			if aggregator != "" {
				return NewInvalidRequestError("aggregator",
					fmt.Sprintf("targets %q and %q are both active aggregators; at most one is allowed", aggregator, t.ID))
			}
			aggregator = t.ID
		}
	}
	return nil
}

// Partition splits targets into the active non-aggregator participants, in
// input order, and the active aggregator, if any.
func Partition(targets []Target) (participants []Target, aggregator *Target) {
	for i := range targets {
		t := targets[i]
		if !t.Active() {
			continue
		}
		if t.IsAggregator {
			if aggregator == nil {
				aggregator = &t
			}
			continue
		}
		participants = append(participants, t)
	}
	return participants, aggregator
}
