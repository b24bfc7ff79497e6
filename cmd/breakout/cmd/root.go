package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rustyeddy/breakout/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "breakout",
	Short: "Session breakout engine for gold",
	Long: `Breakout trades the break of a session range on XAUUSD.

It provides tools for:
  - Backtesting against MetaTrader CSV exports or Dukascopy tick files
  - Running live against a terminal bridge with resume after restart
  - Inspecting run directories and the trade ledger
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

var cfgFile string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
}

// loadConfig reads the config file, or the defaults plus BREAKOUT_*
// overrides when no file is given.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		cfg, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger configures a logger from cfg. Extra writers receive a copy of
// everything written to stderr.
func newLogger(cfg config.LogConfig, extra ...io.Writer) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(level)
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if len(extra) > 0 {
		l.SetOutput(io.MultiWriter(append([]io.Writer{os.Stderr}, extra...)...))
	}
	return logrus.NewEntry(l), nil
}
