package fscache

import (
	"os"
	"path/filepath"
	"testing"

	"rubin.dev/indexer/internal/coin"
)

func buildBlock(t *testing.T, prev [32]byte, nonce uint32, txs []coin.Tx) []byte {
	t.Helper()
	h := coin.NewHeader(1, prev, [32]byte{}, 1000, nonce)
	raw, err := coin.EncodeBlock(h, txs)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	return raw
}

func TestFSCacheProcessFlushAndResolve(t *testing.T) {
	dir := t.TempDir()
	profile := coin.TestProfile{}
	fc, err := Open(dir, profile, -1, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fc.Close()

	genesis := buildBlock(t, profile.GenesisHash(), 1, nil)
	header0, hashes0, _, err := fc.ProcessBlock(genesis)
	if err != nil {
		t.Fatalf("ProcessBlock genesis: %v", err)
	}
	if len(hashes0) != 0 {
		t.Fatalf("expected 0 txs in genesis, got %d", len(hashes0))
	}

	_, headerHash0, err := profile.HeaderHashes(header0)
	if err != nil {
		t.Fatalf("HeaderHashes: %v", err)
	}

	cbTx := coin.Tx{IsCoinbase: true, Outputs: []coin.TxOut{{Amount: 5_000_000_000, Script: make([]byte, 20)}}}
	block1 := buildBlock(t, headerHash0, 2, []coin.Tx{cbTx})
	_, hashes1, _, err := fc.ProcessBlock(block1)
	if err != nil {
		t.Fatalf("ProcessBlock block1: %v", err)
	}
	if len(hashes1) != 1 {
		t.Fatalf("expected 1 tx, got %d", len(hashes1))
	}

	// Mid-block (pre-flush) resolution must already work.
	hash, height, err := fc.GetTxHash(0)
	if err != nil {
		t.Fatalf("GetTxHash(0) pending: %v", err)
	}
	if hash != hashes1[0] || height != 1 {
		t.Fatalf("GetTxHash(0) pending = (%x, %d), want (%x, 1)", hash, height, hashes1[0])
	}

	txDiff, err := fc.Flush(1, 1)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if txDiff != 1 {
		t.Fatalf("txDiff = %d, want 1", txDiff)
	}
	if fc.Height() != 1 || fc.TxCount() != 1 {
		t.Fatalf("post-flush state = (%d, %d), want (1, 1)", fc.Height(), fc.TxCount())
	}

	hash, height, err = fc.GetTxHash(0)
	if err != nil {
		t.Fatalf("GetTxHash(0) flushed: %v", err)
	}
	if hash != hashes1[0] || height != 1 {
		t.Fatalf("GetTxHash(0) flushed = (%x, %d), want (%x, 1)", hash, height, hashes1[0])
	}

	fields, err := fc.DecodeHeader(0)
	if err != nil {
		t.Fatalf("DecodeHeader(0): %v", err)
	}
	if fields.Hash != headerHash0 {
		t.Fatalf("DecodeHeader(0).Hash mismatch")
	}
}

func TestFSCacheRecoversFromTornFile(t *testing.T) {
	dir := t.TempDir()
	profile := coin.TestProfile{}
	fc, err := Open(dir, profile, -1, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	genesis := buildBlock(t, profile.GenesisHash(), 1, nil)
	if _, _, _, err := fc.ProcessBlock(genesis); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if _, err := fc.Flush(0, 0); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := fc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash after a second flush wrote the flat files but
	// before the KV batch committed: append extra bytes beyond what the
	// (still height=0) state records.
	extra := make([]byte, profile.HeaderLen())
	appendBytes(t, filepath.Join(dir, headersFileName), extra)
	appendBytes(t, filepath.Join(dir, txCountsFileName), []byte{0, 0, 0, 0})

	fc2, err := Open(dir, profile, 0, 0)
	if err != nil {
		t.Fatalf("reopen after simulated crash: %v", err)
	}
	defer fc2.Close()
	if fc2.Height() != 0 {
		t.Fatalf("height after truncating recovery = %d, want 0", fc2.Height())
	}
}

func appendBytes(t *testing.T, path string, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
}
