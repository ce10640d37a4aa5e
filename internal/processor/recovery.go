package processor

import (
	"encoding/binary"
	"fmt"

	"rubin.dev/indexer/internal/chainstate"
	"rubin.dev/indexer/internal/coin"
	"rubin.dev/indexer/internal/fscache"
	"rubin.dev/indexer/internal/history"
	"rubin.dev/indexer/internal/ixerr"
	"rubin.dev/indexer/internal/kvstore"
)

// newHistory constructs the History Accumulator with the flush_count
// recovered from the chain-state record, so the next flush's record key
// continues the flush_id sequence instead of restarting it.
func newHistory(store kvstore.Store, flushCount uint16) *history.History {
	return history.New(store, flushCount)
}

// Resolver matches fscache.FSCache.GetTxHash's signature. It is the only
// shape the UTXO cache needs from the FS cache (spec §9: pass
// collaborators in at construction, no back-references).
type Resolver func(txn uint32) (hash [32]byte, height int64, err error)

// Open performs the startup recovery sequence from spec §4.7 and returns
// a ready-to-run Processor. dir is the per-coin-net directory for the FS
// Cache's flat files; newUTXOCache builds the UTXO cache once the FS
// cache (and therefore its GetTxHash resolver) exists.
func Open(store kvstore.Store, profile coin.Profile, dir string, newUTXOCache func(resolve Resolver) utxoCache, budget Budget) (*Processor, error) {
	s, err := chainstate.Load(store)
	if err != nil {
		return nil, fmt.Errorf("processor: load chain state: %w", err)
	}
	if s == nil {
		s = &chainstate.State{
			GenesisHash: profile.GenesisHash(),
			Height:      -1,
		}
		batch := store.WriteBatch(true)
		chainstate.Save(batch, s)
		if err := batch.Commit(); err != nil {
			return nil, fmt.Errorf("processor: write initial chain state: %w", err)
		}
	} else {
		if s.GenesisHash != profile.GenesisHash() {
			return nil, fmt.Errorf("%w: db genesis_hash %x does not match coin genesis_hash %x", ixerr.ErrWrongChain, s.GenesisHash, profile.GenesisHash())
		}
		if s.FlushCount < s.UTXOFlushCount {
			return nil, ixerr.Corrupt("flush_count %d < utxo_flush_count %d", s.FlushCount, s.UTXOFlushCount)
		}
		if s.FlushCount > s.UTXOFlushCount {
			if err := deleteExcessHistory(store, s); err != nil {
				return nil, fmt.Errorf("processor: recover from unclean shutdown: %w", err)
			}
		}
	}

	fs, err := fscache.Open(dir, profile, s.Height, s.TxCount)
	if err != nil {
		return nil, fmt.Errorf("processor: open fs cache: %w", err)
	}

	hist := newHistory(store, s.FlushCount)
	utxo := newUTXOCache(fs.GetTxHash)

	return New(store, profile, fs, utxo, hist, budget, s, dir), nil
}

// deleteExcessHistory implements spec §4.7 step 4: the process crashed
// after a history-only flush. Every H-key whose trailing flush_id
// exceeds the last completed UTXO flush is rolled back.
func deleteExcessHistory(store kvstore.Store, s *chainstate.State) error {
	it, err := store.Iterator([]byte{'H'})
	if err != nil {
		return err
	}
	defer it.Close()

	var toDelete [][]byte
	for it.Next() {
		key := it.Key()
		if len(key) < 2 {
			continue
		}
		flushID := binary.BigEndian.Uint16(key[len(key)-2:])
		if flushID > s.UTXOFlushCount {
			toDelete = append(toDelete, append([]byte(nil), key...))
		}
	}

	batch := store.WriteBatch(true)
	for _, key := range toDelete {
		batch.Delete(key)
	}
	s.FlushCount = s.UTXOFlushCount
	chainstate.Save(batch, s)
	return batch.Commit()
}
