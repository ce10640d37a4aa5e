package telemetry

import (
	"time"

	"rubin.dev/indexer/internal/coin"
)

// FlushReport carries the numbers the Flush Coordinator has on hand
// right after a flush completes, letting ReportSync render them without
// reaching back into the Processor's internals.
type FlushReport struct {
	Height       int64
	TxCount      uint32
	WallTime     uint64        // total processing time in seconds, spec's wall_time
	TxDiff       uint32        // transactions committed by this flush
	FlushElapsed time.Duration // time since the previous flush, for this-flush tx/sec
	DaemonHeight uint32
	DaemonKnown  bool
}

// ReportSync logs the sync-rate/ETA accounting from the original
// BlockProcessor.flush()'s trailing stats block (txs_per_sec, tx_est),
// named as a supplemented feature in SPEC_FULL.md. It is reporting only:
// no invariant depends on these numbers.
func ReportSync(log *Logger, profile coin.Profile, r FlushReport) {
	if r.WallTime == 0 {
		return
	}
	txsPerSec := uint64(r.TxCount) / r.WallTime

	elapsed := r.FlushElapsed.Seconds()
	thisTxsPerSec := uint64(1)
	if elapsed > 0 {
		thisTxsPerSec = 1 + uint64(float64(r.TxDiff)/elapsed)
	}

	log.Info("txs: %d  tx/sec since genesis: %d, since last flush: %d", r.TxCount, txsPerSec, thisTxsPerSec)

	if !r.DaemonKnown {
		log.Info("sync time: %s", FormattedTime(r.WallTime))
		return
	}

	var txEst float64
	if uint64(r.Height) > profile.TxCountHeight() {
		txEst = float64(r.DaemonHeight-uint32(r.Height)) * profile.TxPerBlock() // #nosec G115 -- heights bounded by real chain sizes.
	} else {
		txEst = float64(uint64(profile.TxCountHeight())-uint64(r.Height))*profile.TxPerBlock() +
			float64(profile.TxCount()-uint64(r.TxCount))
	}
	etaSeconds := txEst / float64(thisTxsPerSec)
	log.Info("sync time: %s  ETA: %s", FormattedTime(r.WallTime), FormattedTime(uint64(etaSeconds)))
}
