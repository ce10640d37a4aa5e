package daemon

import (
	"context"
	"sync"
)

// Fake is an in-memory Daemon backed by a fixed list of blocks, for
// testing the Prefetcher and the cmd wiring without a real upstream
// node. Hashes are the decimal block index, zero-padded to 10
// characters, which is all BlockHexHashes/RawBlocks need to round-trip.
type Fake struct {
	mu     sync.Mutex
	blocks [][]byte
	cached uint32
	hasCached bool
}

// NewFake returns a Fake serving blocks in order; CachedHeight reports
// len(blocks)-1 immediately, matching a daemon that is already caught up.
func NewFake(blocks [][]byte) *Fake {
	f := &Fake{blocks: blocks}
	if len(blocks) > 0 {
		f.cached = uint32(len(blocks) - 1) // #nosec G115 -- test fixture sizes are small.
		f.hasCached = true
	}
	return f
}

func (f *Fake) Height(_ context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.blocks) == 0 {
		return 0, nil
	}
	return uint32(len(f.blocks) - 1), nil // #nosec G115
}

func (f *Fake) CachedHeight() (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached, f.hasCached
}

// BlockHexHashes encodes each requested height as its decimal string;
// Fake does not model real hashes, only a stable (height <-> identifier)
// mapping that RawBlocks can reverse.
func (f *Fake) BlockHexHashes(_ context.Context, first uint32, count int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for h := first; h < first+uint32(count) && int(h) < len(f.blocks); h++ { // #nosec G115
		out = append(out, heightToHash(h))
	}
	return out, nil
}

func (f *Fake) RawBlocks(_ context.Context, hashes []string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		height, err := hashToHeight(h)
		if err != nil {
			return nil, err
		}
		out[i] = f.blocks[height]
	}
	return out, nil
}

func heightToHash(h uint32) string {
	const digits = "0123456789"
	buf := make([]byte, 10)
	for i := 9; i >= 0; i-- {
		buf[i] = digits[h%10]
		h /= 10
	}
	return string(buf)
}

func hashToHeight(hash string) (uint32, error) {
	var h uint32
	for i := 0; i < len(hash); i++ {
		h = h*10 + uint32(hash[i]-'0')
	}
	return h, nil
}
