package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/report"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trades from a run directory or the SQLite ledger.

Subcommands:
  run    - Show the report and trades of a run directory
  trade  - Get details of a specific trade by position ID
  list   - List every trade for the instrument
  today  - List trades closed today
  day    - List trades closed on a specific day

Examples:
  breakout journal run results/2024-02-01_12-00-00-breakout
  breakout journal trade 01HP3Z... --db ledger.db
  breakout journal day 2024-01-15 --db ledger.db`,
}

var journalRunCmd = &cobra.Command{
	Use:   "run <run-dir>",
	Short: "Show the report and trades of a run directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalRun,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <position-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every trade for the instrument",
	Args:  cobra.NoArgs,
	RunE:  runJournalList,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var (
	journalDBPath     string
	journalInstrument string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVar(&journalDBPath, "db", "", "path to SQLite ledger (defaults to store.path)")
	journalListCmd.Flags().StringVarP(&journalInstrument, "instrument", "i", "XAU_USD", "instrument to list")
}

func runJournalRun(cmd *cobra.Command, args []string) error {
	dir, err := journal.OpenRunDir(args[0])
	if err != nil {
		return err
	}
	perf, err := dir.ReadPerformance()
	if err != nil {
		return fmt.Errorf("read performance: %w", err)
	}
	trades, err := dir.ReadTrades()
	if err != nil {
		return fmt.Errorf("read trades: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s %s %s\n", perf.RunID, perf.Strategy, perf.Instrument, perf.Timeframe)
	report.Print(out, perf.Performance)
	fmt.Fprintln(out)
	for _, t := range trades {
		fmt.Fprintln(out, journal.FormatTradeOrg(t))
	}
	return nil
}

func openJournalDB() (*ledger.SQLiteStore, error) {
	path := journalDBPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if cfg.Store.Type != "sqlite" {
			return nil, fmt.Errorf("no SQLite ledger: pass --db or configure store.type sqlite")
		}
		path = cfg.Store.Path
	}
	s, err := ledger.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return s, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	s, err := openJournalDB()
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.GetTrade(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func runJournalList(cmd *cobra.Command, args []string) error {
	s, err := openJournalDB()
	if err != nil {
		return err
	}
	defer s.Close()

	trades, err := s.ListTrades(context.Background(), journalInstrument)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	printTrades(cmd, trades)
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return listClosedBetween(cmd, start, start.Add(24*time.Hour))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	day, err := time.ParseInLocation("2006-01-02", args[0], time.Local)
	if err != nil {
		return fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
	}
	return listClosedBetween(cmd, day, day.Add(24*time.Hour))
}

func listClosedBetween(cmd *cobra.Command, start, end time.Time) error {
	s, err := openJournalDB()
	if err != nil {
		return err
	}
	defer s.Close()

	trades, err := s.ListTradesClosedBetween(context.Background(), start, end)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	printTrades(cmd, trades)
	return nil
}

func printTrades(cmd *cobra.Command, trades []ledger.Trade) {
	out := cmd.OutOrStdout()
	if len(trades) == 0 {
		fmt.Fprintln(out, "No trades found")
		return
	}
	var pnl float64
	for _, t := range trades {
		fmt.Fprintln(out, journal.FormatTradeOrg(t))
		pnl += t.PnL
	}
	fmt.Fprintf(out, "\n%d trades, net %.2f\n", len(trades), pnl)
}
