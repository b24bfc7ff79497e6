package cmd

import (
	"fmt"
	"io"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/config"
	"github.com/rustyeddy/breakout/engine"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/pkg/id"
	"github.com/rustyeddy/breakout/strategies"
	"github.com/sirupsen/logrus"
)

// openStore returns the configured ledger store. The closer is a no-op for
// stores that hold no resources.
func openStore(cfg config.StoreConfig) (ledger.Store, io.Closer, error) {
	switch cfg.Type {
	case "file":
		s, err := ledger.NewFileStore(cfg.Path)
		return s, nopCloser{}, err
	case "sqlite":
		s, err := ledger.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return ledger.NewMemoryStore(), nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type engineParts struct {
	cfg      *config.Config
	store    ledger.Store
	exec     broker.Executor
	ids      *id.Generator
	observer engine.Observer
	log      *logrus.Entry
}

// buildEngine assembles calendar, strategy, ledger and engine from cfg.
func buildEngine(p engineParts) (*engine.Engine, error) {
	cfg := p.cfg
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}
	strat, err := strategies.New(cfg.Strategy.Name, cfg.StrategyConfig())
	if err != nil {
		return nil, err
	}
	meta, err := market.Lookup(cfg.Instrument)
	if err != nil {
		return nil, err
	}
	rate, err := market.QuoteToAccountRate(meta, cfg.Account.Currency, 0)
	if err != nil {
		return nil, fmt.Errorf("account currency: %w", err)
	}

	l := ledger.New(p.store, cfg.Instrument, cfg.Account.Balance, p.ids)
	return engine.New(engine.Deps{
		Calendar: cal,
		Strategy: strat,
		Ledger:   l,
		Executor: p.exec,
		IDs:      p.ids,
		Log:      p.log,
		Observer: p.observer,
	}, engine.Options{
		Instrument:     cfg.Instrument,
		QuoteToAccount: rate,
		BrokerTimeout:  cfg.Broker.Timeout,
	})
}
