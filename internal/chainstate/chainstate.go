// Package chainstate encodes the small fixed record of indexer progress
// named in spec §4: genesis hash, height, transaction count, chain tip,
// and the two flush counters that drive crash recovery (spec §4.7).
package chainstate

import (
	"encoding/binary"
	"fmt"

	"rubin.dev/indexer/internal/kvstore"
)

const stateKey = "state"

const currentVersion = 1

// recordLen is 1 (version) + 32 (genesis) + 8 (height) + 4 (tx_count) +
// 32 (tip) + 2 (flush_count) + 2 (utxo_flush_count) + 8 (wall_time).
const recordLen = 1 + 32 + 8 + 4 + 32 + 2 + 2 + 8

// State is the persisted chain-progress record.
type State struct {
	GenesisHash     [32]byte
	Height          int64 // -1 before the genesis block is processed
	TxCount         uint32
	Tip             [32]byte
	FlushCount      uint16
	UTXOFlushCount  uint16
	WallTime        uint64 // cumulative processing time in seconds, as of the last flush
}

// Load reads the state record, or (nil, nil) if the database is fresh.
// It first tries the current binary layout, then falls back to the
// legacy ASCII-dict format (see legacy.go) so a datadir produced by the
// system this index was modeled on can be adopted in place.
func Load(store kvstore.Store) (*State, error) {
	raw, err := store.Get([]byte(stateKey))
	if err != nil {
		return nil, fmt.Errorf("chainstate: get: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	if len(raw) > 0 && raw[0] == currentVersion && len(raw) == recordLen {
		return decode(raw)
	}
	return decodeLegacy(raw)
}

// Save writes the full state record.
func Save(batch kvstore.Batch, s *State) {
	batch.Put([]byte(stateKey), encode(s))
}

func encode(s *State) []byte {
	buf := make([]byte, recordLen)
	buf[0] = currentVersion
	off := 1
	copy(buf[off:off+32], s.GenesisHash[:])
	off += 32
	binary.LittleEndian.PutUint64(buf[off:], uint64(s.Height)) // #nosec G115 -- height is non-negative once processing has started; -1 round-trips via two's complement.
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], s.TxCount)
	off += 4
	copy(buf[off:off+32], s.Tip[:])
	off += 32
	binary.LittleEndian.PutUint16(buf[off:], s.FlushCount)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], s.UTXOFlushCount)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], s.WallTime)
	return buf
}

func decode(raw []byte) (*State, error) {
	if len(raw) != recordLen {
		return nil, fmt.Errorf("chainstate: record is %d bytes, want %d", len(raw), recordLen)
	}
	s := &State{}
	off := 1
	copy(s.GenesisHash[:], raw[off:off+32])
	off += 32
	s.Height = int64(binary.LittleEndian.Uint64(raw[off:]))
	off += 8
	s.TxCount = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	copy(s.Tip[:], raw[off:off+32])
	off += 32
	s.FlushCount = binary.LittleEndian.Uint16(raw[off:])
	off += 2
	s.UTXOFlushCount = binary.LittleEndian.Uint16(raw[off:])
	off += 2
	s.WallTime = binary.LittleEndian.Uint64(raw[off:])
	return s, nil
}
