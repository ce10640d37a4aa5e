package processor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"rubin.dev/indexer/internal/coin"
	"rubin.dev/indexer/internal/kvstore"
	"rubin.dev/indexer/internal/utxocache"
)

func openFixture(t *testing.T) (*Processor, coin.Profile, kvstore.Store) {
	t.Helper()
	p, profile, store, _ := openFixtureDir(t)
	return p, profile, store
}

func openFixtureDir(t *testing.T) (*Processor, coin.Profile, kvstore.Store, string) {
	t.Helper()
	store := kvstore.NewMemStore()
	profile := coin.TestProfile{}
	dir := t.TempDir()
	var resolveRef utxocache.TxHashResolver
	newCache := func(resolve Resolver) utxoCache {
		resolveRef = utxocache.TxHashResolver(resolve)
		return utxocache.New(store, resolveRef)
	}
	p, err := Open(store, profile, dir, newCache, DefaultBudget)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p, profile, store, dir
}

func scriptFor(b byte) []byte {
	s := make([]byte, coin.AIDLen)
	s[0] = b
	return s
}

// TestFreshDBGenesisOnly covers spec §8 scenario 1. The tip == genesis
// hash assertion from the scenario's literal text assumes a real coin
// profile whose GENESIS_HASH constant was computed as the actual hash
// of block 0; TestProfile can't satisfy that by construction (no header
// hashes to the all-zero digest), so this checks the invariants that
// are actually meaningful for a synthetic profile: height, tx_count and
// that no address-keyed records exist yet.
func TestFreshDBGenesisOnly(t *testing.T) {
	p, _, store := openFixture(t)

	header := coin.NewHeader(1, [32]byte{}, [32]byte{}, 1, 0)
	raw, err := coin.EncodeBlock(header, nil)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := p.ProcessBlock(raw); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	if p.Height() != 0 {
		t.Fatalf("Height = %d, want 0", p.Height())
	}
	if p.TxCount() != 0 {
		t.Fatalf("TxCount = %d, want 0", p.TxCount())
	}
	for _, prefix := range []byte{'u', 'h', 'H'} {
		it, err := store.Iterator([]byte{prefix})
		if err != nil {
			t.Fatalf("Iterator(%c): %v", prefix, err)
		}
		if it.Next() {
			t.Fatalf("expected no %c-prefixed keys before any flush, found %x", prefix, it.Key())
		}
		it.Close()
	}
}

// TestCoinbaseThenFlush covers spec §8 scenario 2.
func TestCoinbaseThenFlush(t *testing.T) {
	p, profile, store := openFixture(t)

	scriptA := scriptFor(0xA1)
	aidA, ok := profile.DeriveAID(scriptA)
	if !ok {
		t.Fatal("DeriveAID should succeed for a bare AIDLen script")
	}

	header := coin.NewHeader(1, [32]byte{}, [32]byte{}, 1, 0)
	raw, err := coin.EncodeBlock(header, []coin.Tx{{
		IsCoinbase: true,
		Outputs:    []coin.TxOut{{Amount: 5_000_000_000, Script: scriptA}},
	}})
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := p.ProcessBlock(raw); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if err := p.Flush(true); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	recs, err := utxocache.ScanAID(store, aidA)
	if err != nil {
		t.Fatalf("ScanAID: %v", err)
	}
	if len(recs) != 1 || recs[0].TXN != 0 || recs[0].Amount != 5_000_000_000 {
		t.Fatalf("ScanAID(A) = %+v, want one record {TXN:0 Amount:5e9}", recs)
	}

	txns, err := p.History().GetHistory(aidA)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(txns) != 1 || txns[0] != 0 {
		t.Fatalf("GetHistory(A) = %v, want [0]", txns)
	}
}

// TestFlushWritesMetaSidecar checks that a successful Flush leaves the
// informational meta.json sidecar (internal/fscache/meta.go) behind in
// the FS Cache directory, readable without touching the KV store.
func TestFlushWritesMetaSidecar(t *testing.T) {
	p, _, _, dir := openFixtureDir(t)

	header := coin.NewHeader(1, [32]byte{}, [32]byte{}, 1, 0)
	raw, err := coin.EncodeBlock(header, nil)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := p.ProcessBlock(raw); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if err := p.Flush(true); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		t.Fatalf("ReadFile meta.json: %v", err)
	}
	var m struct {
		Coin    string
		Net     string
		Height  int64
		TxCount uint32
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal meta.json: %v", err)
	}
	if m.Height != 0 {
		t.Fatalf("meta.Height = %d, want 0", m.Height)
	}
}

// TestSpendInNextBlock covers spec §8 scenario 3.
func TestSpendInNextBlock(t *testing.T) {
	p, profile, store := openFixture(t)

	scriptA := scriptFor(0xA1)
	scriptB := scriptFor(0xB2)
	aidA, _ := profile.DeriveAID(scriptA)
	aidB, _ := profile.DeriveAID(scriptB)

	header1 := coin.NewHeader(1, [32]byte{}, [32]byte{}, 1, 0)
	raw1, err := coin.EncodeBlock(header1, []coin.Tx{{
		IsCoinbase: true,
		Outputs:    []coin.TxOut{{Amount: 5_000_000_000, Script: scriptA}},
	}})
	if err != nil {
		t.Fatalf("EncodeBlock 1: %v", err)
	}
	if err := p.ProcessBlock(raw1); err != nil {
		t.Fatalf("ProcessBlock 1: %v", err)
	}
	if err := p.Flush(true); err != nil {
		t.Fatalf("Flush 1: %v", err)
	}

	coinbaseHash, _, err := p.FSCache().GetTxHash(0)
	if err != nil {
		t.Fatalf("GetTxHash: %v", err)
	}

	_, prevHeaderHash, err := profile.HeaderHashes(header1)
	if err != nil {
		t.Fatalf("HeaderHashes: %v", err)
	}
	header2 := coin.NewHeader(1, prevHeaderHash, [32]byte{}, 2, 0)
	raw2, err := coin.EncodeBlock(header2, []coin.Tx{{
		IsCoinbase: false,
		Inputs:     []coin.TxIn{{Outpoint: coin.TxOutPoint{PrevTxHash: coinbaseHash, PrevOut: 0}}},
		Outputs:    []coin.TxOut{{Amount: 4_900_000_000, Script: scriptB}},
	}})
	if err != nil {
		t.Fatalf("EncodeBlock 2: %v", err)
	}
	if err := p.ProcessBlock(raw2); err != nil {
		t.Fatalf("ProcessBlock 2: %v", err)
	}
	if err := p.Flush(true); err != nil {
		t.Fatalf("Flush 2: %v", err)
	}

	recsA, err := utxocache.ScanAID(store, aidA)
	if err != nil {
		t.Fatalf("ScanAID(A): %v", err)
	}
	if len(recsA) != 0 {
		t.Fatalf("ScanAID(A) after spend = %+v, want none", recsA)
	}
	recsB, err := utxocache.ScanAID(store, aidB)
	if err != nil {
		t.Fatalf("ScanAID(B): %v", err)
	}
	if len(recsB) != 1 || recsB[0].TXN != 1 {
		t.Fatalf("ScanAID(B) = %+v, want one record {TXN:1}", recsB)
	}

	histA, err := p.History().GetHistory(aidA)
	if err != nil || len(histA) != 2 || histA[0] != 0 || histA[1] != 1 {
		t.Fatalf("GetHistory(A) = %v, %v, want [0 1] (created by TXN 0, spent by TXN 1)", histA, err)
	}
	histB, err := p.History().GetHistory(aidB)
	if err != nil || len(histB) != 1 || histB[0] != 1 {
		t.Fatalf("GetHistory(B) = %v, %v, want [1]", histB, err)
	}
}

// TestSameBlockCreateAndSpend covers spec §8 scenario 4: a transaction
// in the same block spends an output created earlier in that block,
// before any flush has happened.
func TestSameBlockCreateAndSpend(t *testing.T) {
	p, profile, _ := openFixture(t)

	scriptA := scriptFor(0xA1)
	scriptC := scriptFor(0xC3)
	scriptD := scriptFor(0xD4)
	aidC, _ := profile.DeriveAID(scriptC)
	aidD, _ := profile.DeriveAID(scriptD)

	header0 := coin.NewHeader(1, [32]byte{}, [32]byte{}, 1, 0)
	raw0, err := coin.EncodeBlock(header0, []coin.Tx{{
		IsCoinbase: true,
		Outputs:    []coin.TxOut{{Amount: 1, Script: scriptA}},
	}})
	if err != nil {
		t.Fatalf("EncodeBlock 0: %v", err)
	}
	if err := p.ProcessBlock(raw0); err != nil {
		t.Fatalf("ProcessBlock 0: %v", err)
	}

	h1 := coin.Tx{IsCoinbase: false, Outputs: []coin.TxOut{{Amount: 10, Script: scriptC}}}

	// A tx's hash depends only on its own encoded bytes (see
	// coin.TestProfile.ParseBlock), not its position in the block, so
	// h1's hash can be discovered by parsing it alone before building
	// the real two-tx block that spends it.
	soloRaw, err := coin.EncodeBlock(header0, []coin.Tx{h1})
	if err != nil {
		t.Fatalf("EncodeBlock solo h1: %v", err)
	}
	_, soloHashes, _, err := profile.ParseBlock(soloRaw)
	if err != nil {
		t.Fatalf("ParseBlock solo h1: %v", err)
	}
	txHash1 := soloHashes[0]

	h2 := coin.Tx{
		IsCoinbase: false,
		Inputs:     []coin.TxIn{{Outpoint: coin.TxOutPoint{PrevTxHash: txHash1, PrevOut: 0}}},
		Outputs:    []coin.TxOut{{Amount: 9, Script: scriptD}},
	}

	_, prevHash, err := profile.HeaderHashes(header0)
	if err != nil {
		t.Fatalf("HeaderHashes: %v", err)
	}
	header1 := coin.NewHeader(1, prevHash, [32]byte{}, 2, 0)
	raw1, err := coin.EncodeBlock(header1, []coin.Tx{h1, h2})
	if err != nil {
		t.Fatalf("EncodeBlock 1: %v", err)
	}
	if err := p.ProcessBlock(raw1); err != nil {
		t.Fatalf("ProcessBlock 1: %v", err)
	}

	histC, err := p.History().GetHistory(aidC)
	if err != nil {
		t.Fatalf("GetHistory(C): %v", err)
	}
	if len(histC) != 2 || histC[0] != 1 || histC[1] != 2 {
		t.Fatalf("GetHistory(C) = %v, want [1 2] (created by TXN 1, spent by TXN 2)", histC)
	}
	histD, err := p.History().GetHistory(aidD)
	if err != nil || len(histD) != 1 || histD[0] != 2 {
		t.Fatalf("GetHistory(D) = %v, %v, want [2]", histD, err)
	}
}

// TestReorgDetected covers spec §8 scenario 6.
func TestReorgDetected(t *testing.T) {
	p, _, _ := openFixture(t)

	header := coin.NewHeader(1, [32]byte{0x99}, [32]byte{}, 1, 0)
	raw, err := coin.EncodeBlock(header, nil)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	err = p.ProcessBlock(raw)
	if err == nil {
		t.Fatal("expected a reorg error for a block whose prev_hash doesn't match tip")
	}
	if p.Height() != -1 || p.TxCount() != 0 {
		t.Fatalf("height/tx_count mutated after a rejected block: height=%d tx_count=%d", p.Height(), p.TxCount())
	}
	// The rejected block must not leave an orphan entry in the FS cache's
	// pending buffers: a terminal flush (spec §5's mandatory shutdown
	// flush) right after a reorg error has to succeed.
	if err := p.Flush(true); err != nil {
		t.Fatalf("Flush after rejected block: %v", err)
	}
}

// TestCrashBetweenHistoryAndUTXOFlush covers spec §8 scenario 5: a
// history-only flush is simulated, then a fresh Processor is opened
// against the same store to exercise the recovery path.
func TestCrashBetweenHistoryAndUTXOFlush(t *testing.T) {
	store := kvstore.NewMemStore()
	profile := coin.TestProfile{}
	dir := t.TempDir()
	newCache := func(resolve Resolver) utxoCache {
		return utxocache.New(store, utxocache.TxHashResolver(resolve))
	}

	p, err := Open(store, profile, dir, newCache, DefaultBudget)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	scriptA := scriptFor(0xA1)
	header := coin.NewHeader(1, [32]byte{}, [32]byte{}, 1, 0)
	raw, err := coin.EncodeBlock(header, []coin.Tx{{
		IsCoinbase: true,
		Outputs:    []coin.TxOut{{Amount: 1, Script: scriptA}},
	}})
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := p.ProcessBlock(raw); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if err := p.Flush(false); err != nil { // history-only flush: simulates the crash scenario
		t.Fatalf("Flush(false): %v", err)
	}

	reopened, err := Open(store, profile, dir, newCache, DefaultBudget)
	if err != nil {
		t.Fatalf("reopen after simulated crash: %v", err)
	}
	// db_height/db_tx_count are only advanced by a UTXO flush (spec
	// §4.6), so a history-only flush leaves the persisted chain state
	// at its pre-block values; recovery truncates the FS cache files
	// back to match, and block 0 must be reprocessed.
	if reopened.Height() != -1 {
		t.Fatalf("Height after recovery = %d, want -1 (block 0 must be reprocessed)", reopened.Height())
	}
	if reopened.TxCount() != 0 {
		t.Fatalf("TxCount after recovery = %d, want 0", reopened.TxCount())
	}

	it, err := store.Iterator([]byte{'H'})
	if err != nil {
		t.Fatalf("Iterator(H): %v", err)
	}
	defer it.Close()
	if it.Next() {
		t.Fatalf("expected the excess history record (flush_id=1) to be deleted by recovery, found %x", it.Key())
	}
}
