// Package daemon names the upstream full-node collaborator from spec §6:
// the thing the Prefetcher pulls raw blocks from. The core never talks
// to a real daemon directly; it depends only on this interface, which
// keeps the daemon RPC client itself out of scope (spec §1).
package daemon

import "context"

// Daemon is the required surface of the upstream full-node daemon.
// The Prefetcher wraps every error returned by these calls in
// ixerr.DaemonError and retries; none of them is fatal to it.
type Daemon interface {
	// Height is the daemon's current tip height.
	Height(ctx context.Context) (uint32, error)
	// CachedHeight is the daemon's last-known height without a fresh
	// round-trip, or (0, false) if the daemon has not reported one yet.
	CachedHeight() (height uint32, ok bool)
	// BlockHexHashes returns up to count block hashes starting at height
	// first, in ascending height order.
	BlockHexHashes(ctx context.Context, first uint32, count int) ([]string, error)
	// RawBlocks fetches the serialized bytes for each hash, in the same
	// order as hashes.
	RawBlocks(ctx context.Context, hashes []string) ([][]byte, error)
}
