// Package prefetcher implements the concurrent producer from spec §4.5:
// it stays ahead of the Block Processor by fetching raw blocks from the
// daemon collaborator into a byte-budgeted queue. It is the one
// concurrent task the core's cooperative single-thread model (spec §5)
// allows; the original's asyncio task/queue becomes a goroutine and a
// Go channel here.
package prefetcher

import (
	"context"
	"sync/atomic"
	"time"

	"rubin.dev/indexer/internal/daemon"
	"rubin.dev/indexer/internal/ixerr"
)

const (
	// maxBatchBlocks mirrors the original's hard 4000-block request cap.
	maxBatchBlocks = 4000
	// minBatchBlocks is the floor below which a batch request isn't
	// worth making, even if recent blocks have been unusually large.
	minBatchBlocks = 10
	// recentSizesWindow is how many of the most recently fetched block
	// sizes feed the running-average batch-size estimate.
	recentSizesWindow = 50
	// idleSleep is how long the loop waits once the queue is full
	// before re-checking, matching the original's asyncio.sleep(2).
	idleSleep = 2 * time.Second
)

// batch is one prefetched group of blocks plus its total byte size, so
// GetBlocks can cheaply debit queueSize without re-measuring.
type batch struct {
	blocks    [][]byte
	totalSize int64
}

// OnDaemonError, when set, is called every time a daemon call fails so
// the caller can log it. Errors are never fatal here (spec §4.5, §7):
// the loop always retries after idleSleep.
type OnDaemonError func(err error)

// Prefetcher is the producer half of the Daemon -> Prefetcher -> queue ->
// Block Processor pipeline. Start runs until ctx is cancelled; GetBlocks
// is called by the consumer (the Processor) to drain one batch at a
// time. Safe for the one-producer/one-consumer use the core's
// concurrency model requires; it is not a general-purpose MPMC queue.
type Prefetcher struct {
	daemon daemon.Daemon
	queue  chan batch

	targetBytes int64
	queueBytes  atomic.Int64

	fetchedHeight atomic.Uint32
	recentSizes   []int // touched only from the Start goroutine

	OnError OnDaemonError
}

// New constructs a Prefetcher that will begin fetching from height+1.
// Pass ^uint32(0) for height on a fresh index with nothing fetched yet;
// it wraps to a first fetch at height 0 rather than skipping block 0.
// targetBytes is the queue byte budget B from spec §4.5 (e.g. 10 MiB).
func New(d daemon.Daemon, height uint32, targetBytes int64) *Prefetcher {
	p := &Prefetcher{
		daemon:      d,
		queue:       make(chan batch, 64),
		targetBytes: targetBytes,
		recentSizes: []int{0},
	}
	p.fetchedHeight.Store(height)
	return p
}

// QueueBytes reports the current queue occupancy, for the telemetry
// gauge named in SPEC_FULL.md's DOMAIN STACK section.
func (p *Prefetcher) QueueBytes() int64 { return p.queueBytes.Load() }

// FetchedHeight reports the highest height already enqueued (not
// necessarily yet consumed).
func (p *Prefetcher) FetchedHeight() uint32 { return p.fetchedHeight.Load() }

// GetBlocks awaits and returns the next prefetched batch, or an error if
// ctx is cancelled first. It is the consumer's only suspension point on
// the queue (spec §5's "awaiting the next batch").
func (p *Prefetcher) GetBlocks(ctx context.Context) ([][]byte, error) {
	select {
	case b := <-p.queue:
		p.queueBytes.Add(-b.totalSize)
		return b.blocks, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start loops forever (until ctx is cancelled) keeping the queue filled
// to targetBytes. Daemon errors are logged via OnError and retried after
// idleSleep; they never terminate the loop (spec §4.5, §7).
func (p *Prefetcher) Start(ctx context.Context) error {
	for {
		for p.queueBytes.Load() < p.targetBytes {
			if err := ctx.Err(); err != nil {
				return err
			}
			progressed, err := p.prefetchOnce(ctx)
			if err != nil {
				if p.OnError != nil {
					p.OnError(err)
				}
				break
			}
			if !progressed {
				// Caught up with the daemon: nothing to fetch right
				// now. Fall through to idleSleep rather than busy-poll.
				break
			}
		}
		select {
		case <-time.After(idleSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// prefetchOnce requests one batch of block hashes sized from the recent
// average block size, fetches their bodies, and enqueues them. progressed
// is false when the daemon has nothing new to offer right now.
func (p *Prefetcher) prefetchOnce(ctx context.Context) (progressed bool, err error) {
	daemonHeight, err := p.daemon.Height(ctx)
	if err != nil {
		return false, &ixerr.DaemonError{Op: "height", Err: err}
	}
	fetched := p.fetchedHeight.Load()
	// first is computed via wraparound so that a caller priming a fresh
	// index with fetched == ^uint32(0) ("nothing fetched yet") correctly
	// targets height 0 here rather than being mistaken for "caught up".
	first := fetched + 1
	if first > daemonHeight {
		return false, nil
	}

	room := p.targetBytes - p.queueBytes.Load()
	count := p.prefillCount(room)
	maxCount := int(daemonHeight-first) + 1
	if maxCount > maxBatchBlocks {
		maxCount = maxBatchBlocks
	}
	if count > maxCount {
		count = maxCount
	}

	hashes, err := p.daemon.BlockHexHashes(ctx, first, count)
	if err != nil {
		return false, &ixerr.DaemonError{Op: "block_hex_hashes", Err: err}
	}
	if len(hashes) == 0 {
		return false, nil
	}

	blocks, err := p.daemon.RawBlocks(ctx, hashes)
	if err != nil {
		return false, &ixerr.DaemonError{Op: "raw_blocks", Err: err}
	}

	var total int64
	sizes := make([]int, len(blocks))
	for i, b := range blocks {
		sizes[i] = len(b)
		total += int64(len(b))
	}

	p.queue <- batch{blocks: blocks, totalSize: total}
	p.queueBytes.Add(total)
	p.fetchedHeight.Add(uint32(len(blocks))) // #nosec G115 -- batch length bounded by maxBatchBlocks.

	p.recentSizes = append(p.recentSizes, sizes...)
	if excess := len(p.recentSizes) - recentSizesWindow; excess > 0 {
		p.recentSizes = p.recentSizes[excess:]
	}
	return true, nil
}

// prefillCount estimates how many blocks fit in room bytes using the
// running average of recentSizes, floored at minBatchBlocks so a slow
// start (or a run of tiny blocks) doesn't stall the pipeline.
func (p *Prefetcher) prefillCount(room int64) int {
	var sum int
	for _, s := range p.recentSizes {
		sum += s
	}
	avg := sum / len(p.recentSizes)
	count := 0
	if avg > 0 {
		count = int(room) / avg
	}
	if count < minBatchBlocks {
		count = minBatchBlocks
	}
	return count
}
