// Command hn-collector collects items from the Hacker News API into a store.
//
// Exit codes: 0 when every id was collected and stored; 1 when some ids
// failed, an item could not be stored, or the run was interrupted; 2 on a
// configuration or startup error, including an unavailable max id in range mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/typesarecool/myhn/internal/config"
	"github.com/typesarecool/myhn/pkg/collector"
	"github.com/typesarecool/myhn/pkg/logging"
	"github.com/typesarecool/myhn/pkg/metrics"
	"github.com/typesarecool/myhn/pkg/source"
	"github.com/typesarecool/myhn/pkg/store/backend"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitStartup = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

// flags holds command-line overrides. Only flags actually set are applied.
type flags struct {
	configPath  string
	mode        string
	count       int64
	seeds       string
	maxDepth    int
	maxItems    int
	incremental bool
	baseURL     string
	workers     int
	minInterval time.Duration
	maxAttempts int
	backend     string
	target      string
	logLevel    string
	pretty      bool
	metricsAddr string
}

func newFlagSet(stderr io.Writer) (*flag.FlagSet, *flags) {
	f := &flags{}
	fs := flag.NewFlagSet("hn-collector", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.configPath, "config", "", "YAML config file (default $CONFIG_PATH)")
	fs.StringVar(&f.mode, "mode", "", "traversal mode: range or graph")
	fs.Int64Var(&f.count, "count", 0, "range mode: number of most recent ids")
	fs.StringVar(&f.seeds, "seeds", "", "graph mode: comma-separated seed ids")
	fs.IntVar(&f.maxDepth, "max-depth", 0, "graph mode: depth bound below the seeds (0 = unbounded)")
	fs.IntVar(&f.maxItems, "max-items", 0, "maximum ids to enqueue (0 = unbounded)")
	fs.BoolVar(&f.incremental, "incremental", false, "range mode: skip ids at or below the highest stored id")
	fs.StringVar(&f.baseURL, "base-url", "", "item API root")
	fs.IntVar(&f.workers, "workers", 0, "concurrent fetch workers")
	fs.DurationVar(&f.minInterval, "min-interval", 0, "minimum time between fetch starts")
	fs.IntVar(&f.maxAttempts, "max-attempts", 0, "fetch attempts per id before it fails")
	fs.StringVar(&f.backend, "backend", "", "store backend: "+strings.Join(backend.Names(), ", "))
	fs.StringVar(&f.target, "target", "", "store target: file path, DSN, address or URI")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&f.pretty, "pretty", false, "human-readable logs")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address during the run")

	return fs, f
}

// apply copies the flags that were set on the command line onto cfg.
func (f *flags) apply(fs *flag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "mode":
			cfg.Run.Mode = f.mode
		case "count":
			cfg.Run.Count = f.count
		case "seeds":
			seeds, perr := parseSeeds(f.seeds)
			if perr != nil {
				err = perr
				return
			}
			cfg.Run.Seeds = seeds
		case "max-depth":
			cfg.Run.MaxDepth = f.maxDepth
		case "max-items":
			cfg.Run.MaxItems = f.maxItems
		case "incremental":
			cfg.Run.Incremental = f.incremental
		case "base-url":
			cfg.Source.BaseURL = f.baseURL
		case "workers":
			cfg.Scheduler.Workers = f.workers
		case "min-interval":
			cfg.Scheduler.MinInterval = f.minInterval
		case "max-attempts":
			cfg.Scheduler.MaxAttempts = f.maxAttempts
		case "backend":
			cfg.Store.Backend = f.backend
		case "target":
			cfg.Store.Target = f.target
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "pretty":
			cfg.Log.Pretty = f.pretty
		case "metrics-addr":
			cfg.Metrics.Addr = f.metricsAddr
		}
	})
	return err
}

func parseSeeds(s string) ([]int64, error) {
	var seeds []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", part, err)
		}
		seeds = append(seeds, id)
	}
	return seeds, nil
}

// run executes the command and returns the exit code.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs, f := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return exitStartup
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "hn-collector: %v\n", err)
		return exitStartup
	}
	if err := f.apply(fs, cfg); err != nil {
		fmt.Fprintf(stderr, "hn-collector: %v\n", err)
		return exitStartup
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "hn-collector: invalid configuration: %v\n", err)
		return exitStartup
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = stderr
	logger := logging.Setup(logCfg)

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Listen(cfg.Metrics.Addr, logging.NewLogger("metrics"))
		if err != nil {
			logger.Error().Err(err).Msg("Failed to start metrics server")
			return exitStartup
		}
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	st, err := backend.Open(ctx, cfg.BackendConfig(), logging.NewLogger("store"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open store")
		return exitStartup
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	client, err := source.New(source.NewHTTPTransport(cfg.TransportConfig()), cfg.SourceConfig())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create source client")
		return exitStartup
	}

	col, err := collector.New(cfg.CollectorConfig(), client, st, logging.NewLogger("collector"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create collector")
		return exitStartup
	}

	report, err := col.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Run could not start")
		return exitStartup
	}

	report.Log(logger)
	if !report.OK() {
		return exitFailed
	}
	return exitOK
}
