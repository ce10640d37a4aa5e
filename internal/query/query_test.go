package query

import (
	"testing"

	"rubin.dev/indexer/internal/coin"
	"rubin.dev/indexer/internal/fscache"
	"rubin.dev/indexer/internal/history"
	"rubin.dev/indexer/internal/kvstore"
	"rubin.dev/indexer/internal/utxocache"
)

func buildFixture(t *testing.T) (*Query, coin.AID, coin.AID) {
	t.Helper()
	profile := coin.TestProfile{}
	store := kvstore.NewMemStore()
	fs, err := fscache.Open(t.TempDir(), profile, -1, 0)
	if err != nil {
		t.Fatalf("fscache.Open: %v", err)
	}
	t.Cleanup(func() { _ = fs.Close() })

	hist := history.New(store, 0)
	utxo := utxocache.New(store, fs.GetTxHash)

	scriptA := make([]byte, coin.AIDLen)
	scriptA[0] = 0xAA
	scriptB := make([]byte, coin.AIDLen)
	scriptB[0] = 0xBB
	aidA, _ := profile.DeriveAID(scriptA)
	aidB, _ := profile.DeriveAID(scriptB)

	var genesisHash [32]byte
	header := coin.NewHeader(1, genesisHash, [32]byte{}, 1000, 0)
	raw, err := coin.EncodeBlock(header, []coin.Tx{{
		IsCoinbase: true,
		Outputs:    []coin.TxOut{{Amount: 5_000_000_000, Script: scriptA}},
	}})
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	_, txHashes, txs, err := fs.ProcessBlock(raw)
	if err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	touched := utxo.AddMany(txHashes[0], 0, profile, txs[0].Outputs)
	for _, aid := range touched {
		hist.Append(aid, 0)
	}

	if _, err := fs.Flush(0, 1); err != nil {
		t.Fatalf("fs.Flush: %v", err)
	}
	batch := store.WriteBatch(true)
	if err := hist.Flush(batch); err != nil {
		t.Fatalf("hist.Flush: %v", err)
	}
	if err := utxo.Flush(batch); err != nil {
		t.Fatalf("utxo.Flush: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	q := New(store, fs.GetTxHash, fs.DecodeHeader, hist, func() int64 { return fs.Height() })
	return q, aidA, aidB
}

func TestGetHistoryAndBalance(t *testing.T) {
	q, aidA, aidB := buildFixture(t)

	entries, err := q.GetHistory(aidA, NoLimit)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(entries) != 1 || entries[0].Height != 0 {
		t.Fatalf("GetHistory(A) = %+v, want one entry at height 0", entries)
	}

	balance, err := q.GetBalance(aidA)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 5_000_000_000 {
		t.Fatalf("GetBalance(A) = %d, want 5e9", balance)
	}

	emptyBalance, err := q.GetBalance(aidB)
	if err != nil {
		t.Fatalf("GetBalance(B): %v", err)
	}
	if emptyBalance != 0 {
		t.Fatalf("GetBalance(B) = %d, want 0", emptyBalance)
	}
}

func TestGetUTXOsSortedAndCurrentHeader(t *testing.T) {
	q, aidA, _ := buildFixture(t)

	utxos, err := q.GetUTXOsSorted(aidA)
	if err != nil {
		t.Fatalf("GetUTXOsSorted: %v", err)
	}
	if len(utxos) != 1 || utxos[0].Amount != 5_000_000_000 || utxos[0].TXN != 0 {
		t.Fatalf("GetUTXOsSorted = %+v, want one UTXO(TXN=0, Amount=5e9)", utxos)
	}

	header, err := q.GetCurrentHeader()
	if err != nil {
		t.Fatalf("GetCurrentHeader: %v", err)
	}
	if header.Height != 0 || header.Timestamp != 1000 {
		t.Fatalf("GetCurrentHeader = %+v, want height 0 timestamp 1000", header)
	}
}

func TestGetHistoryRespectsLimit(t *testing.T) {
	q, aidA, _ := buildFixture(t)
	entries, err := q.GetHistory(aidA, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("GetHistory with limit 0 = %+v, want none", entries)
	}
}
