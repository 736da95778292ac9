package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"crossledger/core/events"
	"crossledger/native/bank"
	nativecommon "crossledger/native/common"
	"crossledger/native/lending"
	"crossledger/services/lendingd/config"
	"crossledger/services/oracle"
	lendingstate "crossledger/state/lending"
	"crossledger/storage"
)

// genesisBalances lists the token balances minted into the ledger at start-up.
type genesisBalances struct {
	Balances []balanceConfig `toml:"balances"`
}

type balanceConfig struct {
	Asset   string `toml:"Asset"`
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}

// app holds the wired lending components.
type app struct {
	engine *lending.Engine
	ledger *bank.Ledger
	feed   *oracle.Feed
	pauses *nativecommon.PauseSet
	store  *lendingstate.Store
}

func openDatabase(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Engine {
	case config.StorageMemory:
		return storage.NewMemDB(), nil
	case config.StorageLevelDB:
		return storage.NewLevelDB(cfg.Path)
	case config.StorageBolt:
		return storage.NewBoltDB(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage engine %q", cfg.Engine)
	}
}

// bootstrap builds the engine over db, lists the configured reserves that are
// not yet registered and seeds prices and balances.
func bootstrap(ctx context.Context, cfg config.Config, db storage.Database, emitter events.Emitter, logger *slog.Logger) (*app, error) {
	module, err := lending.ParseAddress(cfg.ModuleAddress)
	if err != nil {
		return nil, fmt.Errorf("module address: %w", err)
	}
	market, err := lending.LoadConfig(cfg.MarketFile)
	if err != nil {
		return nil, err
	}
	params, err := market.Params()
	if err != nil {
		return nil, fmt.Errorf("market params: %w", err)
	}
	store, err := lendingstate.NewStore(db)
	if err != nil {
		return nil, err
	}

	a := &app{
		engine: lending.NewEngine(module, params),
		ledger: bank.NewLedger(),
		feed:   oracle.NewFeed(cfg.Oracle.MaxAge),
		pauses: nativecommon.NewPauseSet(cfg.Pauses...),
		store:  store,
	}
	a.engine.SetState(store)
	a.engine.SetLedger(a.ledger)
	a.engine.SetPriceSource(a.feed)
	a.engine.SetPauses(a.pauses)
	a.engine.SetLogger(logger)
	if emitter != nil {
		a.engine.SetEmitter(emitter)
	}

	for _, rc := range market.Reserves {
		asset, err := rc.Address()
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", rc.Symbol, err)
		}
		rp, err := rc.Params()
		if err != nil {
			return nil, err
		}
		switch err := a.engine.AddReserve(ctx, asset, rp); {
		case errors.Is(err, lending.ErrReserveExists):
			logger.Debug("reserve already listed", "asset", asset.Hex(), "symbol", rc.Symbol)
		case err != nil:
			return nil, fmt.Errorf("list reserve %s: %w", rc.Symbol, err)
		}
		price, err := rc.Price()
		if err != nil {
			return nil, fmt.Errorf("reserve %s price: %w", rc.Symbol, err)
		}
		if price.Sign() > 0 {
			if err := a.feed.SetPrice(asset, price); err != nil {
				return nil, fmt.Errorf("seed price %s: %w", rc.Symbol, err)
			}
		}
	}

	recipient, err := market.FeeRecipientAddress()
	if err != nil {
		return nil, fmt.Errorf("fee recipient: %w", err)
	}
	if recipient != (common.Address{}) {
		if err := a.engine.SetFeeRecipient(ctx, recipient); err != nil {
			return nil, fmt.Errorf("set fee recipient: %w", err)
		}
	}

	if err := a.mintGenesis(cfg.MarketFile); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) mintGenesis(path string) error {
	var genesis genesisBalances
	if _, err := toml.DecodeFile(path, &genesis); err != nil {
		return fmt.Errorf("decode genesis balances: %w", err)
	}
	for i, entry := range genesis.Balances {
		asset, err := lending.ParseAddress(entry.Asset)
		if err != nil {
			return fmt.Errorf("balance %d asset: %w", i, err)
		}
		account, err := lending.ParseAddress(entry.Account)
		if err != nil {
			return fmt.Errorf("balance %d account: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("balance %d: invalid amount %q", i, entry.Amount)
		}
		if err := a.ledger.Mint(asset, account, amount); err != nil {
			return fmt.Errorf("balance %d: %w", i, err)
		}
	}
	return nil
}

// controlsPaused reports whether the stored switch or the module pause is set.
func (a *app) controlsPaused(ctx context.Context) bool {
	controls, err := a.engine.Controls(ctx)
	if err != nil || controls == nil {
		return a.pauses.IsPaused(lending.ModuleName)
	}
	return controls.Paused || a.pauses.IsPaused(lending.ModuleName)
}

const shutdownGrace = 10 * time.Second
