package processor

import (
	"fmt"
	"time"

	"rubin.dev/indexer/internal/chainstate"
)

// Flush executes the protocol from spec §4.6: flat files hit disk
// first, then one KV batch reconciles history (always) and the UTXO
// cache (if alsoUTXOs), then the chain-state record is committed twice —
// once inside the batch, once alone afterward so wall_time accounts for
// the commit itself.
func (p *Processor) Flush(alsoUTXOs bool) error {
	flushStart := p.lastFlush

	txDiff, err := p.fs.Flush(p.height, p.txCount)
	if err != nil {
		return fmt.Errorf("processor: flush fs cache: %w", err)
	}

	batch := p.store.WriteBatch(true)
	if err := p.hist.Flush(batch); err != nil {
		return fmt.Errorf("processor: flush history: %w", err)
	}
	if alsoUTXOs {
		if err := p.utxo.Flush(batch); err != nil {
			return fmt.Errorf("processor: flush utxo cache: %w", err)
		}
		p.dbHeight = p.height
		p.dbTxCount = p.txCount
		p.utxoFlushCount = p.hist.FlushID()
	}

	now := time.Now()
	p.wallTime += uint64(now.Sub(p.lastFlush).Seconds()) // #nosec G115 -- elapsed seconds between flushes never approaches u64 overflow.
	p.lastFlush = now

	state := func() *chainstate.State {
		return &chainstate.State{
			GenesisHash:    p.genesisHash(),
			Height:         p.dbHeight,
			TxCount:        p.dbTxCount,
			Tip:            p.tip,
			FlushCount:     p.hist.FlushID(),
			UTXOFlushCount: p.utxoFlushCount,
			WallTime:       p.wallTime,
		}
	}
	chainstate.Save(batch, state())

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("processor: commit flush batch: %w", err)
	}

	now = time.Now()
	p.wallTime += uint64(now.Sub(p.lastFlush).Seconds()) // #nosec G115
	p.lastFlush = now
	solo := p.store.WriteBatch(true)
	chainstate.Save(solo, state())
	if err := solo.Commit(); err != nil {
		return err
	}

	// meta.json is informational only (see fscache.WriteMeta); a failure
	// here never aborts a flush that already committed successfully.
	if p.dir != "" {
		_ = p.fs.WriteMeta(p.dir)
	}

	if p.hooks.OnFlush != nil {
		p.hooks.OnFlush(FlushStats{
			Height:   p.height,
			TxCount:  p.txCount,
			WallTime: p.wallTime,
			TxDiff:   txDiff,
			Elapsed:  p.lastFlush.Sub(flushStart),
		})
	}
	return nil
}

func (p *Processor) genesisHash() [32]byte { return p.profile.GenesisHash() }
