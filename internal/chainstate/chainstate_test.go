package chainstate

import (
	"testing"

	"rubin.dev/indexer/internal/kvstore"
)

func TestLoadFreshDBReturnsNil(t *testing.T) {
	store := kvstore.NewMemStore()
	s, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s != nil {
		t.Fatalf("Load on fresh db = %+v, want nil", s)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := kvstore.NewMemStore()
	want := &State{
		Height:         99,
		TxCount:        12345,
		FlushCount:     3,
		UTXOFlushCount: 2,
		WallTime:       7,
	}
	want.GenesisHash[0] = 0xab
	want.Tip[0] = 0xcd

	batch := store.WriteBatch(true)
	Save(batch, want)
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load = nil, want a state")
	}
	if *got != *want {
		t.Fatalf("Load = %+v, want %+v", *got, *want)
	}
}

func TestLoadLegacyDict(t *testing.T) {
	store := kvstore.NewMemStore()
	genesis := make([]byte, 32)
	tip := make([]byte, 32)
	tip[0] = 0x11
	raw := "{'genesis': b'" + escapeAll(genesis) + "', 'height': 42, 'tx_count': 100, " +
		"'tip': b'" + escapeAll(tip) + "', 'flush_count': 5, 'utxo_flush_count': 4, 'wall_time': 600}"
	if err := store.Put([]byte(stateKey), []byte(raw)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := Load(store)
	if err != nil {
		t.Fatalf("Load legacy: %v", err)
	}
	if got.Height != 42 || got.TxCount != 100 || got.FlushCount != 5 || got.UTXOFlushCount != 4 || got.WallTime != 600 {
		t.Fatalf("Load legacy = %+v", got)
	}
	if got.Tip[0] != 0x11 {
		t.Fatalf("Load legacy tip[0] = %x, want 0x11", got.Tip[0])
	}
}

func escapeAll(b []byte) string {
	out := make([]byte, 0, len(b)*4)
	for _, c := range b {
		out = append(out, []byte("\\x")...)
		out = append(out, hexDigit(c>>4), hexDigit(c&0xf))
	}
	return string(out)
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}
