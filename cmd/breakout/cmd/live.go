package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rustyeddy/breakout/broker/bridge"
	"github.com/rustyeddy/breakout/engine"
	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/live"
	"github.com/rustyeddy/breakout/metrics"
	"github.com/rustyeddy/breakout/oanda"
	"github.com/rustyeddy/breakout/pkg/id"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Trade live through the terminal bridge",
	Long: `Live polls closed bars from the terminal bridge and trades them with the
same engine the backtester uses. State is persisted to the configured store
after every change and reloaded on start, so a restart picks up an open
position without opening a second one.

Example:
  breakout live -c live.yaml --metrics`,
	RunE: runLive,
}

var (
	liveMetrics     bool
	liveMetricsAddr string
)

func init() {
	rootCmd.AddCommand(liveCmd)

	liveCmd.Flags().BoolVar(&liveMetrics, "metrics", false, "serve /metrics, /healthz and /status (overrides metrics.enabled)")
	liveCmd.Flags().StringVar(&liveMetricsAddr, "metrics-addr", "", "metrics listen address (overrides metrics.addr)")
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled = liveMetrics
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = liveMetricsAddr
	}

	dir, err := journal.NewRunDir(cfg.Results.Dir, cfg.Strategy.Name+"-live", time.Now())
	if err != nil {
		return err
	}
	lf, err := dir.OpenLog()
	if err != nil {
		return err
	}
	defer lf.Close()
	log, err := newLogger(cfg.Log, lf)
	if err != nil {
		return err
	}
	if cfg.Store.Type == "memory" {
		log.Warn("memory store: state will not survive a restart")
	}

	store, closer, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closer.Close()

	j, err := journal.NewCSV(dir.File(journal.TradesFile), dir.File(journal.EquityFile))
	if err != nil {
		return err
	}
	defer j.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.NewCollector(reg, cfg.Instrument)

	client := bridge.New(bridge.Config{
		BaseURL:      cfg.Broker.URL,
		Token:        cfg.Broker.Token,
		Timeout:      cfg.Broker.Timeout,
		Retries:      cfg.Broker.Retries,
		RetryWait:    cfg.Broker.RetryWait,
		RetryMaxWait: cfg.Broker.RetryMaxWait,
	}, log)

	eng, err := buildEngine(engineParts{
		cfg:      cfg,
		store:    store,
		exec:     client,
		ids:      id.NewRandom(),
		observer: engine.Observers{j, col},
		log:      log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := eng.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	log.WithFields(logrus.Fields{
		"balance":  st.Balance,
		"trades":   len(st.Trades),
		"run_dir":  dir.Path(),
		"store":    cfg.Store.Type,
		"strategy": eng.Strategy().Name(),
	}).Info("live started")

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, metrics.NewRouter(reg, col, eng.Ledger()), log)
		srv.Start()
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				log.WithError(err).Warn("metrics shutdown")
			}
		}()
	}

	var src live.BarSource = client
	if cfg.Broker.BarSource == "oanda" {
		oc, err := oanda.New(oanda.Config{
			Env:     cfg.Oanda.Env,
			Token:   cfg.Oanda.Token,
			Timeout: cfg.Broker.Timeout,
			Retries: cfg.Broker.Retries,
		}, log)
		if err != nil {
			return err
		}
		src = oc
	}

	poller, err := live.NewPoller(src, eng, live.Options{
		Instrument: cfg.Instrument,
		Timeframe:  cfg.TimeframeValue(),
		Interval:   cfg.Broker.PollInterval,
	}, log)
	if err != nil {
		return err
	}
	if err := poller.Run(ctx); err != nil {
		return fmt.Errorf("live: %w", err)
	}

	l := eng.Ledger()
	log.WithFields(logrus.Fields{"balance": l.Balance(), "trades": len(l.Trades())}).Info("live stopped")
	return nil
}
