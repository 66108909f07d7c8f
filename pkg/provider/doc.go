// Package provider defines the protocol-agnostic interface for LLM inference
// backends and the registry that selects one by provider ID. Each adapter
// (openai, xai, anthropic, google) handles its own backend protocol
// internally. The interface operates on Chorus's own types (ProviderRequest,
// ProviderResponse, ProviderEvent), keeping backend protocol details
// invisible to the dispatcher.
package provider
