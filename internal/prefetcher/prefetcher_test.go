package prefetcher

import (
	"context"
	"testing"
	"time"

	"rubin.dev/indexer/internal/daemon"
)

func TestPrefetcherFetchesInOrder(t *testing.T) {
	blocks := [][]byte{[]byte("b0"), []byte("b1"), []byte("b2"), []byte("b3")}
	d := daemon.NewFake(blocks)
	p := New(d, 0, 1<<20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	got, err := p.GetBlocks(ctx)
	if err != nil {
		t.Fatalf("GetBlocks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("GetBlocks returned %d blocks, want 3 (b1,b2,b3)", len(got))
	}
	for i, b := range got {
		want := blocks[i+1]
		if string(b) != string(want) {
			t.Fatalf("block %d = %q, want %q", i, b, want)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not exit after context cancellation")
	}
}

func TestGetBlocksRespectsCancellation(t *testing.T) {
	p := New(daemon.NewFake(nil), 0, 1<<20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.GetBlocks(ctx); err == nil {
		t.Fatal("GetBlocks should return an error once ctx is cancelled and nothing is queued")
	}
}
