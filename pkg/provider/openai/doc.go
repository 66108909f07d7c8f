// Package openai implements the Provider interface for the OpenAI Chat
// Completions API. It delegates all HTTP communication to the shared
// openaicompat.Client and adds optional model name mapping, which lets the
// same adapter front OpenAI-compatible gateways (LiteLLM, vLLM, Azure
// deployments) under their own provider ID.
package openai
