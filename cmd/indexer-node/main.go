// Command indexer-node wires the block-processing pipeline's
// collaborators together and runs it to completion or until signaled,
// the way cmd/rubin-node/main.go wires node.Config/node.NewSyncEngine
// together in the teacher. The daemon RPC client and the coin profile
// for any real chain are external collaborators out of scope for this
// repository (spec §1); this binary runs against internal/daemon.Fake
// and internal/coin.TestProfile so the pipeline itself is exercised
// end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rubin.dev/indexer/internal/coin"
	"rubin.dev/indexer/internal/config"
	"rubin.dev/indexer/internal/daemon"
	"rubin.dev/indexer/internal/kvstore"
	"rubin.dev/indexer/internal/prefetcher"
	"rubin.dev/indexer/internal/processor"
	"rubin.dev/indexer/internal/query"
	"rubin.dev/indexer/internal/telemetry"
	"rubin.dev/indexer/internal/utxocache"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := config.Default("TEST", "regtest")

	cfg := defaults
	fset := flag.NewFlagSet("indexer-node", flag.ContinueOnError)
	fset.SetOutput(stderr)

	fset.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "indexer data directory")
	fset.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fset.IntVar(&cfg.PrefetchBudgetMB, "prefetch-mb", defaults.PrefetchBudgetMB, "prefetcher queue byte budget, in megabytes")
	fset.IntVar(&cfg.UTXOCacheMB, "utxo-cache-mb", defaults.UTXOCacheMB, "UTXO cache soft flush trigger, in megabytes")
	fset.IntVar(&cfg.HistCacheMB, "hist-cache-mb", defaults.HistCacheMB, "history cache soft flush trigger, in megabytes")
	fset.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "bind address for the Prometheus /metrics endpoint (empty disables it)")
	dryRun := fset.Bool("dry-run", false, "print effective config and exit")
	mineBlocks := fset.Int("fake-blocks", 0, "number of synthetic genesis-chain blocks for internal/daemon.Fake to serve")
	if err := fset.Parse(args); err != nil {
		return 2
	}

	cfg.DBPath = filepath.Join(config.CoinNetDir(cfg.DataDir, defaults.Coin, defaults.Net), "index.db")
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	logger := telemetry.New(stdout, fmt.Sprintf("%s-%s", cfg.Coin, cfg.Net))

	if *dryRun {
		fmt.Fprintf(stdout, "coin=%s net=%s datadir=%s db=%s log_level=%s prefetch_mb=%d utxo_cache_mb=%d hist_cache_mb=%d metrics_addr=%s\n",
			cfg.Coin, cfg.Net, cfg.DataDir, cfg.DBPath, strings.ToLower(cfg.LogLevel), cfg.PrefetchBudgetMB, cfg.UTXOCacheMB, cfg.HistCacheMB, cfg.MetricsAddr)
		return 0
	}

	coinNetDir := config.CoinNetDir(cfg.DataDir, defaults.Coin, defaults.Net)
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o750); err != nil {
		fmt.Fprintf(stderr, "datadir create failed: %v\n", err)
		return 2
	}

	store, err := kvstore.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "kv store open failed: %v\n", err)
		return 2
	}
	defer store.Close()

	profile := coin.TestProfile{}
	budget := processor.Budget{
		UTXOMB:      float64(cfg.UTXOCacheMB),
		HistMB:      float64(cfg.HistCacheMB),
		CheckPeriod: processor.DefaultBudget.CheckPeriod,
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg, strings.ToLower(profile.Name()))
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server: %v", err)
			}
		}()
		defer server.Close() // #nosec G104 -- shutdown on process exit, error not actionable.
	}

	proc, err := processor.Open(store, profile, coinNetDir, func(resolve processor.Resolver) interface {
		AddMany(txHash [32]byte, txnBase uint32, profile coin.Profile, outputs []coin.TxOut) []coin.AID
		Spend(outpoint coin.TxOutPoint) (coin.AID, error)
		Flush(batch kvstore.Batch) error
		Len() int
		DBCacheLen() int
	} {
		return utxocache.New(store, utxocache.TxHashResolver(resolve))
	}, budget)
	if err != nil {
		fmt.Fprintf(stderr, "processor open failed: %v\n", err)
		return 2
	}
	proc.SetHooks(processor.Hooks{
		OnCacheCheck: func(utxoMB, histMB float64) {
			logger.Info("cache sizes: utxo=%.1fMB hist=%.1fMB", utxoMB, histMB)
			metrics.ObserveCacheSizes(utxoMB, histMB)
		},
		OnFlush: func(fs processor.FlushStats) {
			metrics.ObserveFlush(fs.Elapsed.Seconds(), fs.Height)
			telemetry.ReportSync(logger, profile, telemetry.FlushReport{
				Height:       fs.Height,
				TxCount:      fs.TxCount,
				WallTime:     fs.WallTime,
				TxDiff:       fs.TxDiff,
				FlushElapsed: fs.Elapsed,
			})
		},
	})
	proc.SetReorgHandler(processor.StubReorgHandler{})

	q := query.New(store, proc.FSCache().GetTxHash, proc.FSCache().DecodeHeader, proc.History(), proc.Height)
	_ = q // exposed for an out-of-scope query server (spec §1) to embed.

	fakeChain := buildFakeChain(profile, *mineBlocks)
	d := daemon.NewFake(fakeChain)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pf := prefetcher.New(d, heightAsUint32(proc.Height()), int64(cfg.PrefetchBudgetMB)*1024*1024)
	pf.OnError = func(err error) { logger.Warn("prefetch: %v", err) }

	go func() {
		if err := pf.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("prefetcher: %v", err)
		}
	}()

	logger.Info("indexer-node running: height=%d tx_count=%d", proc.Height(), proc.TxCount())

	// daemonHeight is the highest height the daemon will ever report for
	// the finite fake chain this binary demonstrates against (spec §1
	// keeps the real, unbounded daemon RPC client out of scope). Once the
	// Processor reaches it, there is nothing left to wait for; a real,
	// ever-growing daemon would make this loop run until SIGINT/SIGTERM
	// instead.
	daemonHeight, _ := d.Height(ctx)
	runLoop(ctx, proc, pf, metrics, logger, int64(daemonHeight))

	if err := proc.Flush(true); err != nil {
		logger.Error("final flush: %v", err)
		return 1
	}
	logger.Info("indexer-node stopped: height=%d tx_count=%d", proc.Height(), proc.TxCount())
	return 0
}

// runLoop pulls prefetched batches and applies them until ctx is done or
// the Processor reaches target (a negative target means run forever).
// GetBlocks and the per-block yield are the Processor's two suspension
// points named in spec §5.
func runLoop(ctx context.Context, proc *processor.Processor, pf *prefetcher.Prefetcher, metrics *telemetry.Metrics, logger *telemetry.Logger, target int64) {
	for target < 0 || proc.Height() < target {
		blocks, err := pf.GetBlocks(ctx)
		if err != nil {
			return
		}
		metrics.ObservePrefetchQueue(pf.QueueBytes())
		for _, raw := range blocks {
			if err := proc.ProcessBlock(raw); err != nil {
				logger.Error("process block at height %d: %v", proc.Height(), err)
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// heightAsUint32 converts the Processor's signed height into the
// "already fetched" height Prefetcher.New expects. h == -1 (nothing
// processed yet, spec §3's genesis state) maps to the uint32 sentinel
// that wraps to 0 on the Prefetcher's first "fetched + 1", so the very
// first fetch correctly starts at block 0 rather than skipping it.
func heightAsUint32(h int64) uint32 {
	if h < 0 {
		return ^uint32(0)
	}
	return uint32(h) // #nosec G115 -- chain heights fit u32 for any real or synthetic chain used here.
}

// buildFakeChain synthesizes n empty blocks atop the test coin's
// all-zero genesis, purely so indexer-node has something to index
// without a real daemon (spec §1 keeps the daemon RPC client external).
func buildFakeChain(profile coin.Profile, n int) [][]byte {
	if n <= 0 {
		return nil
	}
	blocks := make([][]byte, 0, n)
	prev := profile.GenesisHash()
	for i := 0; i < n; i++ {
		header := coin.NewHeader(1, prev, [32]byte{}, uint64(time.Now().Unix())+uint64(i), uint32(i)) // #nosec G115 -- synthetic fixture indices are small.
		raw, err := coin.EncodeBlock(header, nil)
		if err != nil {
			continue
		}
		blocks = append(blocks, raw)
		if _, headerHash, hErr := profile.HeaderHashes(header); hErr == nil {
			prev = headerHash
		}
	}
	return blocks
}
