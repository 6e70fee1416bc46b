// Package config holds the copy-trader configuration: CLI flags, latency
// profiles, optional YAML overlay, and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode selects between simulated and real order dispatch.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Latency profiles. Fast is the default; turbo tightens the knobs and
// relies on WS-only books.
const (
	ProfileFast  = "fast"
	ProfileTurbo = "turbo"
)

// Sizing rules.
const (
	SizePercent = "percent"
	SizeFixed   = "fixed"
)

// Config aggregates every knob of the replication engine.
type Config struct {
	Source  string `yaml:"source"`
	Mode    string `yaml:"mode"`
	Profile string `yaml:"profile"`

	SizeMode          string  `yaml:"size_mode"`
	MyBalanceUSDC     float64 `yaml:"my_balance_usdc"`
	SourceBalanceUSDC float64 `yaml:"source_balance_usdc"`
	FixedOrderUSDC    float64 `yaml:"fixed_order_usdc"`
	MaxOrderUSDC      float64 `yaml:"max_order_usdc"`

	MinPrice  float64 `yaml:"min_price"`
	MaxPrice  float64 `yaml:"max_price"`
	MaxLagMs  int64   `yaml:"max_lag_ms"`
	MaxSpread float64 `yaml:"max_spread"`
	CrossTick float64 `yaml:"cross_tick"`

	BootstrapSeconds  int  `yaml:"bootstrap_seconds"`
	ReconcileSeconds  int  `yaml:"reconcile_seconds"`
	TradeFetchLimit   int  `yaml:"trade_fetch_limit"`
	MaxParallel       int  `yaml:"max_parallel"`
	MinAssetRefreshMs int64 `yaml:"min_asset_refresh_ms"`
	RefreshDebounceMs int64 `yaml:"refresh_debounce_ms"`
	ActivityCacheMs   int64 `yaml:"activity_cache_ms"`
	BookHTTPFallback  bool `yaml:"book_http_fallback"`
	BookTTLMs         int64 `yaml:"book_ttl_ms"`

	BenchmarkSeconds int `yaml:"benchmark_seconds"`
	StatsEvery       int `yaml:"stats_every"`

	LiveExec   string `yaml:"live_exec"`
	JournalDSN string `yaml:"journal_dsn"`
	StatusPort int    `yaml:"status_port"`
}

// Default returns the baseline configuration (profile fast values).
func Default() Config {
	return Config{
		Mode:    ModePaper,
		Profile: ProfileFast,

		SizeMode:          SizePercent,
		MyBalanceUSDC:     100.0,
		SourceBalanceUSDC: 20000.0,
		FixedOrderUSDC:    1.0,
		MaxOrderUSDC:      0,

		MinPrice:  0.01,
		MaxPrice:  0.99,
		MaxLagMs:  4000,
		MaxSpread: 0.05,
		CrossTick: 0.01,

		BootstrapSeconds:  120,
		ReconcileSeconds:  15,
		TradeFetchLimit:   25,
		MaxParallel:       4,
		MinAssetRefreshMs: 400,
		RefreshDebounceMs: 250,
		ActivityCacheMs:   300,
		BookHTTPFallback:  true,
		BookTTLMs:         3000,

		BenchmarkSeconds: 0,
		StatsEvery:       20,

		LiveExec:   "python-bridge",
		JournalDSN: "",
		StatusPort: 0,
	}
}

// turbo values for the latency knobs. Only applied to knobs the operator
// did not set explicitly on the command line.
var turboOverrides = map[string]func(*Config){
	"max-lag-ms":            func(c *Config) { c.MaxLagMs = 2500 },
	"reconcile-seconds":     func(c *Config) { c.ReconcileSeconds = 8 },
	"max-parallel":          func(c *Config) { c.MaxParallel = 8 },
	"min-asset-refresh-ms":  func(c *Config) { c.MinAssetRefreshMs = 150 },
	"refresh-debounce-ms":   func(c *Config) { c.RefreshDebounceMs = 120 },
	"activity-cache-ms":     func(c *Config) { c.ActivityCacheMs = 150 },
	"book-http-fallback":    func(c *Config) { c.BookHTTPFallback = false },
	"book-ttl-ms":           func(c *Config) { c.BookTTLMs = 1500 },
}

// ErrHelp is returned by Parse when --help/-h was requested.
var ErrHelp = errors.New("help requested")

const usage = `polymirror - event-driven copy trader for the Polymarket CLOB

Usage: polymirror --source <@handle|0xwallet> [options]

  --source S                @pseudonym or 0x wallet to mirror (required)
  --paper                   simulate only, print intents (default)
  --live                    dispatch real orders through the execution adapter
  --profile P               latency profile: fast|turbo (default fast)
  --config PATH             optional YAML config file (base values, flags win)

Sizing:
  --size-mode M             percent|fixed (default percent)
  --my-balance-usdc N       your balance reference for percent mode (default 100)
  --source-balance-usdc N   source balance reference for percent mode (default 20000)
  --fixed-order-usdc N      fixed notional for fixed mode (default 1.0)
  --max-order-usdc N        hard cap per copied order, 0=off (default 0)

Filters:
  --min-price N             accept window lower bound and price clamp (default 0.01)
  --max-price N             accept window upper bound and price clamp (default 0.99)
  --max-lag-ms N            reject events older than this (default 4000)
  --max-spread N            reject when top-of-book spread exceeds this (default 0.05)
  --cross-tick N            aggression past the opposite touch (default 0.01)

Pipeline:
  --bootstrap-seconds N     replay window for history at startup (default 120)
  --reconcile-seconds N     pull loop period, min 2 (default 15)
  --trade-fetch-limit N     items per debounced activity pull (default 25)
  --max-parallel N          concurrent trade-processing ceiling (default 4)
  --min-asset-refresh-ms N  per-asset WS trigger cooldown (default 400)
  --refresh-debounce-ms N   refresh coalescing horizon (default 250)
  --activity-cache-ms N     reuse window for the last activity payload (default 300)
  --book-http-fallback B    allow HTTP book probes on stale cache (default true)
  --book-ttl-ms N           book snapshot freshness horizon (default 3000)

Run control:
  --benchmark-seconds N     self-stop after N seconds, 0=off (default 0)
  --stats-every N           latency summary cadence in samples (default 20)
  --live-exec NAME          execution adapter, only python-bridge is built in
  --journal-dsn DSN         optional Postgres DSN for the mirror-order journal
  --status-port N           optional gin status endpoint, 0=off (default 0)
  --help, -h                print this help and exit
`

// Usage returns the CLI help text.
func Usage() string { return usage }

// Parse builds a Config from CLI arguments. Unknown flags are ignored and a
// value flag followed by another flag token is treated as valueless, so a
// half-typed command line still starts with sane values. The returned set
// records which flags were given explicitly; ApplyProfile consults it.
func Parse(args []string) (Config, map[string]bool, error) {
	cfg := Default()
	set := make(map[string]bool)

	// First pass: an early --config overlays file values under everything else.
	for i := 0; i < len(args); i++ {
		if trimFlag(args[i]) == "config" {
			if v, ok := flagValue(args, i); ok {
				if err := loadFile(&cfg, v); err != nil {
					return cfg, set, err
				}
			}
			break
		}
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "-h" || arg == "--help" {
			return cfg, set, ErrHelp
		}
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		name := trimFlag(arg)

		// Boolean switches first.
		switch name {
		case "paper":
			cfg.Mode = ModePaper
			set["mode"] = true
			continue
		case "live":
			cfg.Mode = ModeLive
			set["mode"] = true
			continue
		}

		val, has := flagValue(args, i)
		if assign(&cfg, name, val, has) {
			set[name] = true
			if has {
				i++
			}
		}
	}

	cfg.ApplyProfile(set)
	return cfg, set, nil
}

// ApplyProfile applies the selected latency profile to every knob the
// operator did not set explicitly, so tuning flags still win.
func (c *Config) ApplyProfile(set map[string]bool) {
	if c.Profile != ProfileTurbo {
		return
	}
	for flag, apply := range turboOverrides {
		if !set[flag] {
			apply(c)
		}
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("--source is required")
	}
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.Profile != ProfileFast && c.Profile != ProfileTurbo {
		return fmt.Errorf("invalid profile %q", c.Profile)
	}
	switch c.SizeMode {
	case SizePercent:
		if c.MyBalanceUSDC <= 0 || c.SourceBalanceUSDC <= 0 {
			return fmt.Errorf("percent sizing requires --my-balance-usdc and --source-balance-usdc > 0")
		}
	case SizeFixed:
		if c.FixedOrderUSDC <= 0 {
			return fmt.Errorf("fixed sizing requires --fixed-order-usdc > 0")
		}
	default:
		return fmt.Errorf("invalid size mode %q", c.SizeMode)
	}
	if c.MaxOrderUSDC < 0 {
		return fmt.Errorf("--max-order-usdc must be >= 0")
	}
	return nil
}

// Scale returns the percent-mode sizing ratio.
func (c *Config) Scale() float64 {
	if c.SourceBalanceUSDC == 0 {
		return 0
	}
	return c.MyBalanceUSDC / c.SourceBalanceUSDC
}

func trimFlag(arg string) string {
	return strings.TrimPrefix(arg, "--")
}

// flagValue returns the value token following args[i], if any. A following
// token that itself starts with -- means the flag was given valueless.
func flagValue(args []string, i int) (string, bool) {
	if i+1 >= len(args) {
		return "", false
	}
	next := args[i+1]
	if strings.HasPrefix(next, "--") {
		return "", false
	}
	return next, true
}

// assign sets a single named option on cfg. Returns false for unknown names
// so the caller can ignore them without consuming a value token.
func assign(cfg *Config, name, val string, has bool) bool {
	setStr := func(dst *string) bool {
		if has {
			*dst = val
		}
		return true
	}
	setFloat := func(dst *float64) bool {
		if has {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				*dst = f
			}
		}
		return true
	}
	setInt := func(dst *int) bool {
		if has {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
		return true
	}
	setInt64 := func(dst *int64) bool {
		if has {
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				*dst = n
			}
		}
		return true
	}
	setBool := func(dst *bool) bool {
		if !has {
			*dst = true
			return true
		}
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
		return true
	}

	switch name {
	case "source":
		return setStr(&cfg.Source)
	case "profile":
		return setStr(&cfg.Profile)
	case "config":
		return has // already handled in the first pass, consume the value
	case "size-mode":
		return setStr(&cfg.SizeMode)
	case "my-balance-usdc":
		return setFloat(&cfg.MyBalanceUSDC)
	case "source-balance-usdc":
		return setFloat(&cfg.SourceBalanceUSDC)
	case "fixed-order-usdc":
		return setFloat(&cfg.FixedOrderUSDC)
	case "max-order-usdc":
		return setFloat(&cfg.MaxOrderUSDC)
	case "min-price":
		return setFloat(&cfg.MinPrice)
	case "max-price":
		return setFloat(&cfg.MaxPrice)
	case "max-lag-ms":
		return setInt64(&cfg.MaxLagMs)
	case "max-spread":
		return setFloat(&cfg.MaxSpread)
	case "cross-tick":
		return setFloat(&cfg.CrossTick)
	case "bootstrap-seconds":
		return setInt(&cfg.BootstrapSeconds)
	case "reconcile-seconds":
		return setInt(&cfg.ReconcileSeconds)
	case "trade-fetch-limit":
		return setInt(&cfg.TradeFetchLimit)
	case "max-parallel":
		return setInt(&cfg.MaxParallel)
	case "min-asset-refresh-ms":
		return setInt64(&cfg.MinAssetRefreshMs)
	case "refresh-debounce-ms":
		return setInt64(&cfg.RefreshDebounceMs)
	case "activity-cache-ms":
		return setInt64(&cfg.ActivityCacheMs)
	case "book-http-fallback":
		return setBool(&cfg.BookHTTPFallback)
	case "book-ttl-ms":
		return setInt64(&cfg.BookTTLMs)
	case "benchmark-seconds":
		return setInt(&cfg.BenchmarkSeconds)
	case "stats-every":
		return setInt(&cfg.StatsEvery)
	case "live-exec":
		return setStr(&cfg.LiveExec)
	case "journal-dsn":
		return setStr(&cfg.JournalDSN)
	case "status-port":
		return setInt(&cfg.StatusPort)
	}
	return false
}

// loadFile overlays YAML values from path onto cfg. Missing file is not an
// error so a checked-in default path can be used unconditionally.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: unable to parse %s: %w", path, err)
	}
	return nil
}
