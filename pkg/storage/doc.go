// Package storage holds what the round archive adapters share: the
// sentinel errors. The adapters implement transport.RoundStore, which is
// defined next to the HTTP handlers that use it.
package storage
