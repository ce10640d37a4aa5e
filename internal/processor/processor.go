// Package processor implements the Block Processor (spec §4.4) and the
// Flush Coordinator and startup recovery that surround it (spec §4.6,
// §4.7): the component that owns chain-tip state, applies blocks to the
// UTXO cache, history accumulator and FS cache in one pass, and decides
// when to reconcile them to the KV store.
package processor

import (
	"fmt"
	"time"

	"rubin.dev/indexer/internal/chainstate"
	"rubin.dev/indexer/internal/coin"
	"rubin.dev/indexer/internal/fscache"
	"rubin.dev/indexer/internal/history"
	"rubin.dev/indexer/internal/ixerr"
	"rubin.dev/indexer/internal/kvstore"
)

// Budget configures when Processor decides to flush. MB values are soft
// triggers (spec §5): actual RSS may exceed them.
type Budget struct {
	UTXOMB      float64
	HistMB      float64
	CheckPeriod time.Duration
}

// DefaultBudget mirrors the 60 s cache-size sampling period from spec §4.4.
var DefaultBudget = Budget{UTXOMB: 1200, HistMB: 1200, CheckPeriod: 60 * time.Second}

// Processor is the Block Processor. It is not safe for concurrent use;
// the single-thread cooperative model in spec §5 is the contract.
type Processor struct {
	store   kvstore.Store
	profile coin.Profile
	fs      *fscache.FSCache
	utxo    utxoCache
	hist    *history.History
	budget  Budget
	dir     string

	height  int64
	txCount uint32
	tip     [32]byte

	dbHeight       int64
	dbTxCount      uint32
	utxoFlushCount uint16

	lastCacheCheck time.Time
	lastFlush      time.Time
	wallTime       uint64

	hooks Hooks
	reorg ReorgHandler
}

// SetReorgHandler installs the hook ProcessBlock calls when it detects a
// reorg (spec §9 open question b). Leaving it unset means callers handle
// the returned *ixerr.ReorgError themselves.
func (p *Processor) SetReorgHandler(h ReorgHandler) { p.reorg = h }

// utxoCache is the subset of *utxocache.UTXOCache the processor needs;
// defined here so this package does not import utxocache for a type it
// only calls through an interface (constructed once at wiring time).
type utxoCache interface {
	AddMany(txHash [32]byte, txnBase uint32, profile coin.Profile, outputs []coin.TxOut) []coin.AID
	Spend(outpoint coin.TxOutPoint) (coin.AID, error)
	Flush(batch kvstore.Batch) error
	Len() int
	DBCacheLen() int
}

// New wires a Processor from its already-recovered collaborators. Use
// Open (recovery.go) to construct everything including recovery. dir is
// the FS Cache's directory, used only to locate the informational
// meta.json sidecar written after each flush.
func New(store kvstore.Store, profile coin.Profile, fs *fscache.FSCache, utxo utxoCache, hist *history.History, budget Budget, s *chainstate.State, dir string) *Processor {
	p := &Processor{
		store:          store,
		profile:        profile,
		fs:             fs,
		utxo:           utxo,
		hist:           hist,
		budget:         budget,
		dir:            dir,
		height:         s.Height,
		txCount:        s.TxCount,
		tip:            s.Tip,
		dbHeight:       s.Height,
		dbTxCount:      s.TxCount,
		utxoFlushCount: s.UTXOFlushCount,
		wallTime:       s.WallTime,
		lastCacheCheck: time.Now(),
		lastFlush:      time.Now(),
	}
	return p
}

func (p *Processor) Height() int64   { return p.height }
func (p *Processor) TxCount() uint32 { return p.txCount }
func (p *Processor) Tip() [32]byte   { return p.tip }

// Store, FSCache and History expose the collaborators backing the §6
// query surface (internal/query), constructed once here rather than
// threaded separately through cmd wiring.
func (p *Processor) Store() kvstore.Store      { return p.store }
func (p *Processor) FSCache() *fscache.FSCache { return p.fs }
func (p *Processor) History() *history.History { return p.hist }

// CurrentHeader answers the §6 get_current_header query directly off
// the FS cache, with or without a pending (unflushed) block.
func (p *Processor) CurrentHeader() (coin.HeaderFields, error) {
	return p.fs.DecodeHeader(p.height)
}

// FlushStats carries the numbers a flush just produced, for
// internal/telemetry's sync-rate/ETA reporting (SPEC_FULL.md
// "Supplemented features").
type FlushStats struct {
	Height   int64
	TxCount  uint32
	WallTime uint64
	TxDiff   uint32
	Elapsed  time.Duration
}

// Hooks lets a caller observe cache-size checks and completed flushes
// without this package importing a concrete telemetry/metrics package
// (spec §9: collaborators are passed in, never reached for).
type Hooks struct {
	OnCacheCheck func(utxoMB, histMB float64)
	OnFlush      func(FlushStats)
}

// SetHooks installs (or clears, with a zero value) the Processor's
// observability hooks.
func (p *Processor) SetHooks(h Hooks) { p.hooks = h }

// CacheSizes estimates the two caches' memory footprint in megabytes,
// the same numbers ProcessBlock samples every CheckPeriod to decide
// whether to flush (spec §4.4 step 6, the original's cache_sizes()).
func (p *Processor) CacheSizes() (utxoMB, histMB float64) { return p.cacheSizesMB() }

// ProcessBlock applies one raw block: parses it, checks it extends the
// current tip, applies every transaction in order, and (roughly every
// CheckPeriod) flushes if either cache has grown past its budget.
func (p *Processor) ProcessBlock(raw []byte) error {
	header, txHashes, txs, err := p.fs.ProcessBlock(raw)
	if err != nil {
		return err
	}
	prevHash, headerHash, err := p.profile.HeaderHashes(header)
	if err != nil {
		return err
	}
	if prevHash != p.tip {
		// The header fs.ProcessBlock just appended above doesn't extend
		// the tip after all; roll it back so it isn't left as an orphan
		// pending entry the next Flush (including the mandatory terminal
		// flush on shutdown) would choke on.
		p.fs.DiscardLastPending()
		reorgErr := &ixerr.ReorgError{Tip: p.tip, PrevHash: prevHash}
		if p.reorg != nil {
			if err := p.reorg.HandleReorg(p.tip, prevHash); err != nil {
				return fmt.Errorf("processor: reorg handler: %w (triggered by %v)", err, reorgErr)
			}
		}
		return reorgErr
	}

	p.tip = headerHash
	p.height++

	for i, tx := range txs {
		if err := p.processTx(txHashes[i], tx); err != nil {
			return err
		}
	}

	if time.Since(p.lastCacheCheck) >= p.budget.CheckPeriod {
		p.lastCacheCheck = time.Now()
		utxoMB, histMB := p.cacheSizesMB()
		if p.hooks.OnCacheCheck != nil {
			p.hooks.OnCacheCheck(utxoMB, histMB)
		}
		if utxoMB > p.budget.UTXOMB || histMB > p.budget.HistMB {
			return p.Flush(utxoMB > p.budget.UTXOMB)
		}
	}
	return nil
}

func (p *Processor) processTx(txHash [32]byte, tx coin.Tx) error {
	aids := p.utxo.AddMany(txHash, p.txCount, p.profile, tx.Outputs)
	touched := make(map[coin.AID]struct{}, len(aids))
	for _, a := range aids {
		touched[a] = struct{}{}
	}
	if !tx.IsCoinbase {
		for _, in := range tx.Inputs {
			aid, err := p.utxo.Spend(in.Outpoint)
			if err != nil {
				// A resolution failure here means the on-disk index is
				// inconsistent with the chain being fed to us: fatal,
				// per spec §7's CorruptIndex kind.
				return err
			}
			touched[aid] = struct{}{}
		}
	}
	for aid := range touched {
		p.hist.Append(aid, p.txCount)
	}
	p.txCount++
	return nil
}

// cacheSizesMB estimates the two caches' memory footprint in megabytes.
// The constants mirror the per-entry overhead the structures in
// utxocache/history actually hold: ~44 bytes per cache entry (hash map
// bucket plus a 24-byte AID/TXN pair) and 4 bytes per pending history TXN.
func (p *Processor) cacheSizesMB() (utxoMB, histMB float64) {
	const bytesPerUTXOEntry = 44.0
	const bytesPerHistEntry = 4.0
	utxoMB = float64(p.utxo.Len()+p.utxo.DBCacheLen()) * bytesPerUTXOEntry / (1024 * 1024)
	histMB = float64(p.hist.Size()) * bytesPerHistEntry / (1024 * 1024)
	return utxoMB, histMB
}
