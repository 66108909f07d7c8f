// Package api defines the core types shared by every Chorus component.
//
// A user query is dispatched to several targets (a provider plus a model)
// in parallel. Each participating target receives the query in its own
// transcript and streams its answer into a placeholder message. Once all
// branches have settled, an optional aggregator target synthesizes one
// combined answer from the settled outcomes.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O.
//
// Core types:
//   - [Target]: a configured provider/model pair with a participation status
//   - [Message]: one transcript entry (user, assistant, or system)
//   - [BranchOutcome]: the settled result of one branch of a round
//   - [RoundEvent]: a notification emitted while a round is in flight
//   - [APIError]: structured error carrying the branch failure taxonomy
package api
