// Package query implements the read-only surface named in spec §6:
// get_history, get_utxos, get_utxos_sorted, get_balance and
// get_current_header. It is a library surface only — no network listener
// is added here, matching the explicit Non-goal "serving client queries
// over a network" (spec §1).
package query

import (
	"sort"

	"rubin.dev/indexer/internal/coin"
	"rubin.dev/indexer/internal/history"
	"rubin.dev/indexer/internal/kvstore"
	"rubin.dev/indexer/internal/utxocache"
)

// DefaultLimit mirrors the original's limit=1000 default.
const DefaultLimit = 1000

// NoLimit requests every matching record, the Go equivalent of passing
// limit=None in the original.
const NoLimit = -1

// TxHashResolver matches fscache.FSCache.GetTxHash's signature.
type TxHashResolver func(txn uint32) (hash [32]byte, height int64, err error)

// HeaderDecoder matches fscache.FSCache.DecodeHeader's signature.
type HeaderDecoder func(height int64) (coin.HeaderFields, error)

// HistoryEntry is one result of GetHistory: a transaction (identified by
// hash) at the given height that touched the queried address.
type HistoryEntry struct {
	TxHash [32]byte
	Height int64
}

// UTXO is one result of GetUTXOs/GetUTXOsSorted.
type UTXO struct {
	TXN      uint32
	TxPos    uint16
	TxHash   [32]byte
	Height   int64
	Amount   uint64
}

// Query answers the spec §6 read-side operations. Its collaborators are
// supplied at construction (spec §9: "no back-references are needed");
// it never reaches into a live Processor.
type Query struct {
	store         kvstore.Store
	resolveTxHash TxHashResolver
	decodeHeader  HeaderDecoder
	hist          *history.History
	height        func() int64
}

// New constructs a Query. height reports the chain height to answer
// GetCurrentHeader; hist may be the same live accumulator the Block
// Processor uses, so pending (not-yet-flushed) history is visible too.
func New(store kvstore.Store, resolveTxHash TxHashResolver, decodeHeader HeaderDecoder, hist *history.History, height func() int64) *Query {
	return &Query{store: store, resolveTxHash: resolveTxHash, decodeHeader: decodeHeader, hist: hist, height: height}
}

func resolveLimit(limit int) int {
	if limit < 0 {
		return -1
	}
	return limit
}

// GetHistory returns (tx_hash, height) for each transaction ordinal that
// touched aid, earliest first. limit caps the result count; pass NoLimit
// for every entry.
func (q *Query) GetHistory(aid coin.AID, limit int) ([]HistoryEntry, error) {
	limit = resolveLimit(limit)
	txns, err := q.hist.GetHistory(aid)
	if err != nil {
		return nil, err
	}
	var out []HistoryEntry
	for _, txn := range txns {
		if limit == 0 {
			break
		}
		hash, height, err := q.resolveTxHash(txn)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryEntry{TxHash: hash, Height: height})
		if limit > 0 {
			limit--
		}
	}
	return out, nil
}

// GetUTXOs returns every live UTXO for aid in no particular order, the
// order ScanAID's store iteration happens to produce. limit caps the
// result count; pass NoLimit for every entry.
func (q *Query) GetUTXOs(aid coin.AID, limit int) ([]UTXO, error) {
	limit = resolveLimit(limit)
	recs, err := utxocache.ScanAID(q.store, aid)
	if err != nil {
		return nil, err
	}
	var out []UTXO
	for _, r := range recs {
		if limit == 0 {
			break
		}
		hash, height, err := q.resolveTxHash(r.TXN)
		if err != nil {
			return nil, err
		}
		out = append(out, UTXO{TXN: r.TXN, TxPos: r.OutIndex, TxHash: hash, Height: height, Amount: r.Amount})
		if limit > 0 {
			limit--
		}
	}
	return out, nil
}

// GetUTXOsSorted returns every live UTXO for aid sorted by
// (height, tx_pos), matching the original's sorted(get_utxos(...)).
func (q *Query) GetUTXOsSorted(aid coin.AID) ([]UTXO, error) {
	utxos, err := q.GetUTXOs(aid, NoLimit)
	if err != nil {
		return nil, err
	}
	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Height != utxos[j].Height {
			return utxos[i].Height < utxos[j].Height
		}
		return utxos[i].TxPos < utxos[j].TxPos
	})
	return utxos, nil
}

// GetBalance sums the amount of every live UTXO for aid.
func (q *Query) GetBalance(aid coin.AID) (uint64, error) {
	utxos, err := q.GetUTXOs(aid, NoLimit)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, u := range utxos {
		total += u.Amount
	}
	return total, nil
}

// GetCurrentHeader returns the structured view of the header at the
// current chain tip.
func (q *Query) GetCurrentHeader() (coin.HeaderFields, error) {
	return q.decodeHeader(q.height())
}
