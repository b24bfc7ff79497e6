package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rustyeddy/breakout/backtest"
	"github.com/rustyeddy/breakout/broker/sim"
	"github.com/rustyeddy/breakout/config"
	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/pkg/id"
	"github.com/rustyeddy/breakout/report"
	"github.com/spf13/cobra"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical bars through the breakout engine",
	Long: `Backtest replays bars from a CSV export or Dukascopy tick files through
the engine with simulated fills and writes a run directory with the trade
log, equity curve, performance summary and reports.

Examples:
  breakout backtest --data data/XAUUSD_M15.csv --months 6
  breakout backtest -c gold.yaml --source dukas --dukas-dir data/dukas --from 2024-01-01 --to 2024-07-01`,
	RunE: runBacktest,
}

var (
	btSource   string
	btData     string
	btDukasDir string
	btFrom     string
	btTo       string
	btMonths   int
	btResults  string
	btNoSave   bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&btSource, "source", "", "bar source: csv or dukas (overrides data.source)")
	backtestCmd.Flags().StringVarP(&btData, "data", "d", "", "path to bar CSV (overrides data.path)")
	backtestCmd.Flags().StringVar(&btDukasDir, "dukas-dir", "", "root of Dukascopy .bi5 files (overrides data.dir)")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "first day, YYYY-MM-DD (overrides data.from)")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "end day, exclusive (overrides data.to)")
	backtestCmd.Flags().IntVar(&btMonths, "months", 0, "keep only the trailing months of data (overrides data.months)")
	backtestCmd.Flags().StringVarP(&btResults, "results", "r", "", "results directory (overrides results.dir)")
	backtestCmd.Flags().BoolVar(&btNoSave, "no-save", false, "print the report without writing a run directory")
}

func applyBacktestFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("source") {
		cfg.Data.Source = btSource
	}
	if f.Changed("data") {
		cfg.Data.Path = btData
		if !f.Changed("source") {
			cfg.Data.Source = "csv"
		}
	}
	if f.Changed("dukas-dir") {
		cfg.Data.Dir = btDukasDir
		if !f.Changed("source") {
			cfg.Data.Source = "dukas"
		}
	}
	if f.Changed("from") {
		cfg.Data.From = btFrom
	}
	if f.Changed("to") {
		cfg.Data.To = btTo
	}
	if f.Changed("months") {
		cfg.Data.Months = btMonths
	}
	if f.Changed("results") {
		cfg.Results.Dir = btResults
	}
	return cfg.Validate()
}

func openFeed(cfg *config.Config) (backtest.BarFeed, string, error) {
	r, err := cfg.DataRange()
	if err != nil {
		return nil, "", err
	}
	loc, err := market.LoadZone(cfg.Timezone.Broker)
	if err != nil {
		return nil, "", err
	}

	switch cfg.Data.Source {
	case "dukas":
		if r.From.IsZero() || r.To.IsZero() {
			return nil, "", errors.New("dukas source needs data.from and data.to")
		}
		feed, err := backtest.NewDukasFeed(backtest.DukasOptions{
			Dir:        cfg.Data.Dir,
			Symbol:     cfg.Data.Symbol,
			Instrument: cfg.Instrument,
			Timeframe:  cfg.TimeframeValue(),
			Location:   loc,
			From:       r.From,
			To:         r.To,
		})
		return feed, filepath.Join(cfg.Data.Dir, cfg.Data.Symbol), err
	default:
		if cfg.Data.Path == "" {
			return nil, "", errors.New("no data file: set data.path or --data")
		}
		feed, err := backtest.NewCSVBarFeed(cfg.Data.Path, backtest.CSVOptions{
			Instrument: cfg.Instrument,
			Location:   loc,
			From:       r.From,
			To:         r.To,
			Months:     cfg.Data.Months,
		})
		return feed, cfg.Data.Path, err
	}
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyBacktestFlags(cmd, cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	started := time.Now()
	var dir *journal.RunDir
	var extra []io.Writer
	if !btNoSave {
		dir, err = journal.NewRunDir(cfg.Results.Dir, cfg.Strategy.Name, started)
		if err != nil {
			return err
		}
		lf, err := dir.OpenLog()
		if err != nil {
			return err
		}
		defer lf.Close()
		extra = append(extra, lf)
	}
	log, err := newLogger(cfg.Log, extra...)
	if err != nil {
		return err
	}

	feed, dataset, err := openFeed(cfg)
	if err != nil {
		return fmt.Errorf("open data: %w", err)
	}

	ids := id.NewGenerator(cfg.Simulation.Seed)
	eng, err := buildEngine(engineParts{
		cfg:   cfg,
		store: ledger.NewMemoryStore(),
		exec:  sim.New(cfg.Simulation.SlippagePips),
		ids:   ids,
		log:   log,
	})
	if err != nil {
		feed.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("dataset", dataset).Info("backtest started")
	runner := &backtest.Runner{
		Engine: eng,
		Feed:   feed,
		Options: backtest.RunnerOptions{
			CloseAtEnd: cfg.Simulation.CloseAtEnd,
			RunID:      id.New(),
			Now:        func() time.Time { return started },
		},
	}
	res, err := runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("backtest: %w", err)
	}
	if err != nil {
		log.Warn("backtest interrupted, reporting partial results")
	}

	out := cmd.OutOrStdout()
	report.Print(out, res.Performance)
	fmt.Fprintf(out, "\nEvents: %s\n", res.Events)

	if dir == nil {
		return nil
	}
	a := journal.Artifacts{
		RunID:      res.RunID,
		Created:    started,
		Strategy:   cfg.Strategy.Name,
		Instrument: cfg.Instrument,
		Timeframe:  cfg.Timeframe,
		Dataset:    dataset,
		Start:      res.Start,
		End:        res.End,
		Config:     cfg.Redacted(),
		Trades:     res.Trades,
		Curve:      res.EquityCurve,
		Summary:    res.Performance,
		Events:     res.Events,
	}
	if err != nil {
		a.Notes = append(a.Notes, "interrupted before the end of data")
	}
	if werr := dir.Write(a); werr != nil {
		return fmt.Errorf("write results: %w", werr)
	}
	fmt.Fprintf(out, "\nResults: %s\n", dir.Path())
	log.WithField("run_id", res.RunID).Info("backtest finished")
	return nil
}
