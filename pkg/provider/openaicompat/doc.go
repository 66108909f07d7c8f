// Package openaicompat provides a shared client for any OpenAI-compatible
// Chat Completions backend. It handles request serialization, response
// parsing, SSE chunk streaming, and error mapping onto the branch failure
// taxonomy.
//
// Provider adapters (openai, xai) embed the Client from this package and
// delegate their Complete/Stream/ListModels calls to it.
package openaicompat
