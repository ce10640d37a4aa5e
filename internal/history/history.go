// Package history implements the History accumulator from spec §4.3: an
// in-memory map from address identifier to the ordered list of
// transaction ordinals that touch it, periodically flushed as packed
// records under keys 'H' + AID + flush_id.
package history

import (
	"encoding/binary"
	"fmt"

	"rubin.dev/indexer/internal/coin"
	"rubin.dev/indexer/internal/kvstore"
)

const keyPrefix = 'H'

// History is the write-back accumulator. Not safe for concurrent use.
type History struct {
	store     kvstore.Store
	acc       map[coin.AID][]uint32
	size      int // total pending TXN entries across all AIDs, spec's history_size
	flushID   uint16
}

// New constructs an accumulator starting from the given already-flushed
// flush_id counter (recovered from chain state).
func New(store kvstore.Store, flushID uint16) *History {
	return &History{
		store:   store,
		acc:     make(map[coin.AID][]uint32),
		flushID: flushID,
	}
}

// Append records that txn touched aid. Call order within a block must be
// preserved; callers append in ascending TXN order.
func (h *History) Append(aid coin.AID, txn uint32) {
	h.acc[aid] = append(h.acc[aid], txn)
	h.size++
}

// Size is the pending entry count (spec's history_size), used by the
// cache-size estimate that decides when to flush.
func (h *History) Size() int { return h.size }

// FlushID is the flush_count: the flush_id of the most recent flush
// (0 before any flush).
func (h *History) FlushID() uint16 { return h.flushID }

// Flush advances flush_id, then writes one record per accumulated AID
// under key 'H' + AID + the new flush_id (big-endian, matching the
// on-disk key-ordering requirement for get_history's ascending-by-
// flush_id scan), and clears the accumulator. The caller commits batch
// as part of a larger atomic write.
func (h *History) Flush(batch kvstore.Batch) error {
	// flush_id always advances, even with nothing accumulated (spec
	// §4.3/§4.6: history.flush "always" increments flush_count), so an
	// empty accumulator still falls through the loop below instead of
	// returning early.
	h.flushID++
	for aid, txns := range h.acc {
		key := encodeKey(aid, h.flushID)
		batch.Put(key, encodeTxns(txns))
	}
	h.acc = make(map[coin.AID][]uint32)
	h.size = 0
	return nil
}

func encodeKey(aid coin.AID, flushID uint16) []byte {
	buf := make([]byte, 1+coin.AIDLen+2)
	buf[0] = keyPrefix
	copy(buf[1:1+coin.AIDLen], aid[:])
	binary.BigEndian.PutUint16(buf[1+coin.AIDLen:], flushID)
	return buf
}

func encodeTxns(txns []uint32) []byte {
	buf := make([]byte, len(txns)*4)
	for i, t := range txns {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], t)
	}
	return buf
}

func decodeTxns(raw []byte) ([]uint32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("history: record length %d is not a multiple of 4", len(raw))
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return out, nil
}

// GetHistory returns the ordered list of transaction ordinals touching
// aid across every flushed record, followed by any still-pending (this
// batch, unflushed) entries. It answers the §6 get_history query.
func (h *History) GetHistory(aid coin.AID) ([]uint32, error) {
	prefix := make([]byte, 1+coin.AIDLen)
	prefix[0] = keyPrefix
	copy(prefix[1:], aid[:])

	it, err := h.store.Iterator(prefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []uint32
	for it.Next() {
		txns, err := decodeTxns(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, txns...)
	}
	out = append(out, h.acc[aid]...)
	return out, nil
}
