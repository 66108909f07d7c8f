// Package transport defines the handler interfaces and middleware chain for
// the chorus HTTP transport layer.
//
// The transport layer sits between clients and the dispatch core. It
// decodes round submissions, hands them to a RoundCreator and streams the
// resulting round events back to the client, either as Server-Sent Events,
// over a WebSocket, or as a single JSON round record once the round ends.
//
// # Handler Interfaces
//
//   - RoundCreator runs one dispatch round and reports its progress to a
//     RoundWriter.
//   - RoundStore keeps records of finished rounds for retrieval.
//
// # Middleware
//
// The middleware chain wraps RoundCreator with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID) and structured logging via log/slog.
package transport
