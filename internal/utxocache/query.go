package utxocache

import (
	"rubin.dev/indexer/internal/coin"
	"rubin.dev/indexer/internal/kvstore"
)

// UTXORecord is one live unspent output surfaced by ScanAID, exported for
// internal/query's get_utxos/get_utxos_sorted (spec §6).
type UTXORecord struct {
	TXN      uint32
	OutIndex uint16
	Amount   uint64
}

// ScanAID reads every on-disk u-index record for aid directly from store,
// bypassing the write-back cache. It is a read-only query operation
// (spec §6's get_utxos); callers needing cache-fresh results must flush
// first, matching the original's "query the DB" query surface.
func ScanAID(store kvstore.Store, aid coin.AID) ([]UTXORecord, error) {
	prefix := make([]byte, 1+coin.AIDLen)
	prefix[0] = uPrefix
	copy(prefix[1:], aid[:])

	it, err := store.Iterator(prefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []UTXORecord
	for it.Next() {
		key := it.Key()
		if len(key) < outIndexLen {
			continue
		}
		outIndex := uint16(key[len(key)-2]) | uint16(key[len(key)-1])<<8
		tuples, err := decodeUTuples(it.Value())
		if err != nil {
			return nil, err
		}
		for _, t := range tuples {
			out = append(out, UTXORecord{TXN: t.txn, OutIndex: outIndex, Amount: t.amount})
		}
	}
	return out, nil
}
