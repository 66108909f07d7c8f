// Package engine connects the transport layer to the dispatch workspace.
// The Engine implements transport.RoundCreator: it submits a query to the
// workspace, turns the dispatcher's sink callbacks into numbered round
// events for streaming clients, and answers archive lookups for rounds
// that are no longer running.
package engine
