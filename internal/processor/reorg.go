package processor

import "errors"

// ErrReorgNotImplemented is returned by StubReorgHandler. Rolling UTXO
// and history state back across a fork is acknowledged as a required
// capability (spec §1, §9 open question b) but the source repository
// this was modeled on contains only a stub; this carries that forward
// rather than inventing a rollback algorithm the spec never describes.
var ErrReorgNotImplemented = errors.New("processor: reorg handling not implemented")

// ReorgHandler is invoked when ProcessBlock returns an *ixerr.ReorgError:
// the next block's prev_hash does not match the current tip. Tip is the
// processor's current chain tip; NewPrevHash is the rejected block's
// declared predecessor.
type ReorgHandler interface {
	HandleReorg(tip, newPrevHash [32]byte) error
}

// StubReorgHandler always fails. It exists so callers have a concrete
// ReorgHandler to wire in today and a single place to replace once
// reorg rollback is implemented.
type StubReorgHandler struct{}

func (StubReorgHandler) HandleReorg(_, _ [32]byte) error { return ErrReorgNotImplemented }
