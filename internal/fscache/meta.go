package fscache

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"rubin.dev/indexer/internal/atomicfile"
)

const metaFileName = "meta.json"

// meta is a human-inspectable summary of the FS Cache's persisted state,
// written alongside the three flat files on every flush. It is purely
// informational: the KV store's chain-state record is the sole source
// of truth recovery reads from (spec §4.7); an operator or monitoring
// script can `cat` this file without touching the KV store at all.
type meta struct {
	Coin    string `json:"coin"`
	Net     string `json:"net"`
	Height  int64  `json:"height"`
	TxCount uint32 `json:"tx_count"`
}

// WriteMeta atomically (over)writes the coin/net directory's meta.json.
// Call it after a successful Flush; a stale or missing meta.json never
// affects correctness, only operator visibility.
func (fc *FSCache) WriteMeta(dir string) error {
	m := meta{
		Coin:    fc.profile.Name(),
		Net:     fc.profile.Net(),
		Height:  fc.height,
		TxCount: fc.txCount,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("fscache: marshal meta: %w", err)
	}
	return atomicfile.Write(filepath.Join(dir, metaFileName), data, 0o600)
}
