// Command ingest fetches OHLCV candle series from Coinbase, derives
// calendar-aggregated timeframes, and merges everything into local CSV
// series files.
//
// Usage:
//
//	ingest collect -symbol BTC-USD [-timeframes 1h,4h,1d,1w] [-start-year 2020] [-end-year 2023]
//	ingest show    -symbol BTC-USD -timeframe 1d [-tail 10]
//	ingest stats   -symbol BTC-USD
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ohlcv-tools/ingest/internal/aggregate"
	"github.com/ohlcv-tools/ingest/internal/backup"
	"github.com/ohlcv-tools/ingest/internal/config"
	"github.com/ohlcv-tools/ingest/internal/errs"
	"github.com/ohlcv-tools/ingest/internal/exchange"
	"github.com/ohlcv-tools/ingest/internal/ingest"
	"github.com/ohlcv-tools/ingest/internal/logger"
	"github.com/ohlcv-tools/ingest/internal/models"
	"github.com/ohlcv-tools/ingest/internal/planner"
	"github.com/ohlcv-tools/ingest/internal/store"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "collect":
		return runCollect(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "stats":
		return runStats(ctx, args[1:])
	case "-h", "--help", "help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `ingest - OHLCV candle series collector

Commands:
  collect   fetch, aggregate, and merge series into the local store
  show      print stored candles for one (symbol, timeframe)
  stats     print row counts and time bounds for a symbol's stored series

Run "ingest <command> -h" for command flags.
`)
}

type app struct {
	cfg     *config.Config
	store   *store.CSVStore
	service *ingest.Service
	probe   *exchange.ExchangeClient
	closer  interface{ Close() error }
}

// newApp loads configuration and wires the full stack. Fetchers requiring
// credentials are only installed when the key file loads.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	retryPolicy := errs.RetryPolicy{
		MaxAttempts:  cfg.Fetch.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay(),
		MaxDelay:     cfg.RetryMaxDelay(),
	}

	exchangeOpts := []exchange.ExchangeClientOption{
		exchange.WithExchangeRetryPolicy(retryPolicy),
		exchange.WithExchangeLogger(log),
	}
	if cfg.Fetch.ExchangeBaseURL != "" {
		exchangeOpts = append(exchangeOpts, exchange.WithExchangeBaseURL(cfg.Fetch.ExchangeBaseURL))
	}
	exchangeClient := exchange.NewExchangeClient(exchangeOpts...)
	fetchers := map[models.Capability]exchange.RawFetcher{
		models.CapabilityExchange: exchangeClient,
	}

	if creds, err := exchange.LoadCredentials(cfg.Fetch.CredentialsPath); err != nil {
		log.Warn("advanced trade credentials unavailable, 30m fetches will fail",
			"path", cfg.Fetch.CredentialsPath, "error", err)
	} else {
		advancedOpts := []exchange.AdvancedTradeOption{
			exchange.WithAdvancedRetryPolicy(retryPolicy),
			exchange.WithAdvancedLogger(log),
		}
		if cfg.Fetch.AdvancedBaseURL != "" {
			advancedOpts = append(advancedOpts, exchange.WithAdvancedBaseURL(cfg.Fetch.AdvancedBaseURL))
		}
		fetchers[models.CapabilityAdvancedTrade] = exchange.NewAdvancedTradeClient(creds, advancedOpts...)
	}

	weekStart, err := cfg.WeekStart()
	if err != nil {
		closer.Close()
		return nil, err
	}
	agg := aggregate.New(aggregate.WithWeekStart(weekStart), aggregate.WithLogger(log))
	pl := planner.New(fetchers, agg, planner.WithLogger(log))

	st := store.NewCSVStore(cfg.Store.DataDir, cfg.Exchange, store.WithCSVLogger(log))

	svcOpts := []ingest.Option{ingest.WithLogger(log)}
	if cfg.Backup.Dir != "" {
		svcOpts = append(svcOpts, ingest.WithBackup(backup.NewMirror(cfg.Backup.Dir, log)))
	}
	svc := ingest.NewService(pl, st, svcOpts...)

	return &app{cfg: cfg, store: st, service: svc, probe: exchangeClient, closer: closer}, nil
}

func (a *app) close() {
	if a.closer != nil {
		a.closer.Close()
	}
}

func runCollect(ctx context.Context, args []string) int {
	flagSet := flag.NewFlagSet("collect", flag.ExitOnError)
	configPath := flagSet.String("config", "", "path to JSON config file")
	symbol := flagSet.String("symbol", "", "trading pair, e.g. BTC-USD")
	timeframes := flagSet.String("timeframes", "1h,4h,1d,1w", "comma-separated timeframes")
	startYear := flagSet.Int("start-year", 0, "first year to fetch (0 = recent window)")
	endYear := flagSet.Int("end-year", 0, "last year to fetch (0 = recent window)")
	flagSet.Parse(args)

	canonical, err := models.NormalizeSymbol(*symbol)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	var tfs []models.Timeframe
	for _, part := range strings.Split(*timeframes, ",") {
		tf, err := models.ParseTimeframe(part)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitUsage
		}
		tfs = append(tfs, tf)
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	defer a.close()

	if known, err := a.probe.ValidateSymbol(ctx, canonical); err == nil && !known {
		fmt.Fprintf(os.Stderr, "%v: %s is not a known product\n", errs.ErrInvalidSymbol, canonical)
		return exitError
	}

	results := a.service.Run(ctx, canonical, tfs, planner.Options{
		StartYear: *startYear,
		EndYear:   *endYear,
	})

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", canonical, r.Timeframe, r.Err)
			continue
		}
		fmt.Printf("%s %s: fetched %d, wrote %d new rows (%d rejected)\n",
			canonical, r.Timeframe, r.Fetched, r.RowsWritten, r.Rejected)
	}
	if failed == len(results) {
		return exitError
	}
	return exitOK
}

func runShow(ctx context.Context, args []string) int {
	flagSet := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := flagSet.String("config", "", "path to JSON config file")
	symbol := flagSet.String("symbol", "", "trading pair, e.g. BTC-USD")
	timeframe := flagSet.String("timeframe", "1d", "timeframe to show")
	tail := flagSet.Int("tail", 10, "number of most recent rows to print (0 = all)")
	flagSet.Parse(args)

	canonical, err := models.NormalizeSymbol(*symbol)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	tf, err := models.ParseTimeframe(*timeframe)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	defer a.close()

	series, err := a.store.Load(ctx, canonical, tf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	if len(series) == 0 {
		fmt.Printf("no stored data for %s %s\n", canonical, tf)
		return exitOK
	}

	from := 0
	if *tail > 0 && len(series) > *tail {
		from = len(series) - *tail
	}
	for i := from; i < len(series); i++ {
		fmt.Println(series[i].String())
	}
	return exitOK
}

func runStats(ctx context.Context, args []string) int {
	flagSet := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := flagSet.String("config", "", "path to JSON config file")
	symbol := flagSet.String("symbol", "", "trading pair, e.g. BTC-USD")
	flagSet.Parse(args)

	canonical, err := models.NormalizeSymbol(*symbol)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	defer a.close()

	printed := 0
	for _, tf := range models.Timeframes() {
		st, err := a.store.Stats(ctx, canonical, tf)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			fmt.Fprintln(os.Stderr, err)
			return exitError
		}
		fmt.Printf("%-4s %6d rows  %s .. %s  (%s)\n",
			tf, st.Rows,
			st.FirstTime.Format("2006-01-02T15:04:05Z"),
			st.LastTime.Format("2006-01-02T15:04:05Z"),
			st.Path)
		printed++
	}
	if printed == 0 {
		fmt.Printf("no stored data for %s\n", canonical)
	}
	return exitOK
}
