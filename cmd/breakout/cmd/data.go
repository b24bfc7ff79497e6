package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rustyeddy/breakout/backtest"
	"github.com/rustyeddy/breakout/config"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/oanda"
	"github.com/spf13/cobra"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Download or convert bar data to CSV",
	Long: `Produce bar CSV files the backtester reads.

Subcommands:
  oanda - Download candles from OANDA (token from oanda.token or BREAKOUT_OANDA_TOKEN)
  dukas - Aggregate Dukascopy .bi5 tick files into bars

Examples:
  breakout data oanda --from 2024-01-01 --to 2024-07-01 --out xauusd_m15.csv
  breakout data dukas --dir data/dukas --from 2024-01-01 --to 2024-02-01 --out xauusd_m15.csv`,
}

var dataOandaCmd = &cobra.Command{
	Use:   "oanda",
	Short: "Download OANDA candles to CSV",
	RunE:  runDataOanda,
}

var dataDukasCmd = &cobra.Command{
	Use:   "dukas",
	Short: "Aggregate Dukascopy ticks to CSV bars",
	RunE:  runDataDukas,
}

var (
	dataFrom      string
	dataTo        string
	dataOut       string
	dataTimeframe string
	dataDir       string
)

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataOandaCmd)
	dataCmd.AddCommand(dataDukasCmd)

	dataCmd.PersistentFlags().StringVar(&dataFrom, "from", "", "first day, YYYY-MM-DD or RFC3339 (required)")
	dataCmd.PersistentFlags().StringVar(&dataTo, "to", "", "end, exclusive (required)")
	dataCmd.PersistentFlags().StringVarP(&dataOut, "out", "o", "bars.csv", "output CSV path")
	dataCmd.PersistentFlags().StringVar(&dataTimeframe, "timeframe", "", "bar timeframe (defaults to the configured one)")
	dataDukasCmd.Flags().StringVar(&dataDir, "dir", "", "root of the .bi5 tree (defaults to data.dir)")
}

// dataRange resolves --from/--to through the config so dates are read in
// the broker zone.
func dataRange(cmd *cobra.Command) (*configRange, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Data.From, cfg.Data.To = dataFrom, dataTo
	if cmd.Flags().Changed("timeframe") {
		cfg.Timeframe = dataTimeframe
	}
	if dataFrom == "" || dataTo == "" {
		return nil, fmt.Errorf("--from and --to are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	r, err := cfg.DataRange()
	if err != nil {
		return nil, err
	}
	return &configRange{cfg: cfg, from: r.From, to: r.To}, nil
}

type configRange struct {
	cfg      *config.Config
	from, to time.Time
}

func writeBarsFile(cmd *cobra.Command, bars []market.Bar) error {
	f, err := os.Create(dataOut)
	if err != nil {
		return err
	}
	if err := backtest.WriteCSVBars(f, bars); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %d bars to %s\n", len(bars), dataOut)
	return nil
}

func runDataOanda(cmd *cobra.Command, args []string) error {
	r, err := dataRange(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(r.cfg.Log)
	if err != nil {
		return err
	}
	client, err := oanda.New(oanda.Config{
		Env:     r.cfg.Oanda.Env,
		Token:   r.cfg.Oanda.Token,
		Retries: r.cfg.Broker.Retries,
	}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	bars, err := client.Range(ctx, r.cfg.Instrument, r.cfg.TimeframeValue(), r.from, r.to)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return writeBarsFile(cmd, bars)
}

func runDataDukas(cmd *cobra.Command, args []string) error {
	r, err := dataRange(cmd)
	if err != nil {
		return err
	}
	dir := r.cfg.Data.Dir
	if dataDir != "" {
		dir = dataDir
	}
	loc, err := market.LoadZone(r.cfg.Timezone.Broker)
	if err != nil {
		return err
	}
	feed, err := backtest.NewDukasFeed(backtest.DukasOptions{
		Dir:        dir,
		Symbol:     r.cfg.Data.Symbol,
		Instrument: r.cfg.Instrument,
		Timeframe:  r.cfg.TimeframeValue(),
		Location:   loc,
		From:       r.from,
		To:         r.to,
	})
	if err != nil {
		return err
	}
	defer feed.Close()

	var bars []market.Bar
	for {
		b, ok, err := feed.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		bars = append(bars, b)
	}
	return writeBarsFile(cmd, bars)
}
