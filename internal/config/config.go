// Package config holds the indexer process's flag-derived configuration,
// modeled directly on the teacher's node.Config / node.DefaultConfig /
// node.ValidateConfig (clients/go/node/config.go): a plain struct, a
// Default*() constructor, and a Validate() returning wrapped errors, no
// third-party config library.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the indexer process's full set of runtime knobs.
type Config struct {
	// Coin/Net select the coin.Profile the caller wires in; the config
	// package itself has no notion of which profiles exist (spec §6:
	// the coin profile is an external collaborator).
	Coin string
	Net  string

	DataDir  string
	DBPath   string
	LogLevel string

	// PrefetchBudgetMB is the byte budget B from spec §4.5.
	PrefetchBudgetMB int
	// UTXOCacheMB / HistCacheMB are the soft flush triggers from spec §5.
	UTXOCacheMB int
	HistCacheMB int

	// MetricsAddr, if non-empty, is the bind address for the Prometheus
	// /metrics endpoint (SPEC_FULL.md DOMAIN STACK).
	MetricsAddr string
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// DefaultDataDir mirrors node.DefaultDataDir's $HOME-or-fallback pattern.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".rubin-indexer"
	}
	return filepath.Join(home, ".rubin-indexer")
}

// Default returns the out-of-the-box configuration for coin/net.
func Default(coin, net string) Config {
	dataDir := DefaultDataDir()
	return Config{
		Coin:             coin,
		Net:              net,
		DataDir:          dataDir,
		DBPath:           filepath.Join(dataDir, coin+"-"+net, "index.db"),
		LogLevel:         "info",
		PrefetchBudgetMB: 10,
		UTXOCacheMB:      1200,
		HistCacheMB:      1200,
	}
}

// Validate rejects a Config that would misbehave rather than fail fast.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Coin) == "" {
		return errors.New("coin is required")
	}
	if strings.TrimSpace(cfg.Net) == "" {
		return errors.New("net is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("db_path is required")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.PrefetchBudgetMB <= 0 {
		return errors.New("prefetch_budget_mb must be > 0")
	}
	if cfg.UTXOCacheMB <= 0 {
		return errors.New("utxo_cache_mb must be > 0")
	}
	if cfg.HistCacheMB <= 0 {
		return errors.New("hist_cache_mb must be > 0")
	}
	return nil
}

// CoinNetDir returns the per-coin-net directory the FS Cache's flat files
// live under, matching the §6 "Files" layout (a directory named NAME-NET).
func CoinNetDir(dataDir, coinName, net string) string {
	return filepath.Join(dataDir, coinName+"-"+net)
}
