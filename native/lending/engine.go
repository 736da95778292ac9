package lending

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crossledger/core/events"
	nativecommon "crossledger/native/common"
)

// ModuleName is the key checked against the pause view.
const ModuleName = "lending"

// Engine orchestrates the state transitions of the cross-collateral lending
// ledger. All exported methods are serialised and reject re-entrant calls.
type Engine struct {
	mu       sync.Mutex
	callouts atomic.Int32

	state         State
	moduleAddress common.Address
	params        Params
	prices        PriceSource
	ledger        TokenLedger
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	logger        *slog.Logger
	clock         func() time.Time
}

// NewEngine constructs a lending engine whose pooled funds are held by
// moduleAddr.
func NewEngine(moduleAddr common.Address, params Params) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		params:        params,
		emitter:       events.NoopEmitter{},
		logger:        slog.Default(),
		clock:         time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetPriceSource configures the oracle used for valuation.
func (e *Engine) SetPriceSource(src PriceSource) {
	if e == nil {
		return
	}
	e.prices = src
}

// SetLedger configures the token ledger used to move funds.
func (e *Engine) SetLedger(ledger TokenLedger) {
	if e == nil {
		return
	}
	e.ledger = ledger
}

// SetEmitter configures the sink for committed lending events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses wires an external pause view checked alongside the persisted
// protocol pause.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetClock overrides the wall clock used for accrual timestamps.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil {
		return
	}
	if clock == nil {
		clock = time.Now
	}
	e.clock = clock
}

// Params returns the engine's protocol parameters.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// ModuleAddress returns the account holding pooled funds.
func (e *Engine) ModuleAddress() common.Address {
	if e == nil {
		return common.Address{}
	}
	return e.moduleAddress
}

func (e *Engine) now() uint64 {
	ts := e.clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

type actionFunc func(ctx context.Context, tx *stateTx, xfer *transferLog, now uint64) error

// execute runs fn against a buffered transaction. External transfers made by
// fn are reversed when fn or the commit fails, and events are only emitted
// once the commit succeeded.
func (e *Engine) execute(ctx context.Context, action string, fn actionFunc) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	ctx, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx := newStateTx(e.state)
	xfer := &transferLog{ledger: e.ledger, callout: e.callout}
	now := e.now()

	if err := fn(ctx, tx, xfer, now); err != nil {
		e.unwind(ctx, action, xfer)
		return err
	}
	if err := tx.commit(); err != nil {
		e.unwind(ctx, action, xfer)
		return fmt.Errorf("lending engine: commit %s: %w", action, err)
	}
	e.emit(tx.events)
	return nil
}

// view runs fn against a transaction that is always discarded.
func (e *Engine) view(ctx context.Context, fn actionFunc) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	ctx, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, newStateTx(e.state), &transferLog{}, e.now())
}

func (e *Engine) emit(evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	defer e.callout()()
	for _, ev := range evts {
		e.emitter.Emit(ev)
	}
}

func (e *Engine) unwind(ctx context.Context, action string, xfer *transferLog) {
	if len(xfer.steps) == 0 {
		return
	}
	if err := xfer.unwind(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("lending transfer unwind failed", "action", action, "error", err)
	}
}

// guard rejects the action when the protocol is paused. bypass lets the
// emergency-withdraw switch through.
func (e *Engine) guard(tx *stateTx, bypass bool) error {
	if bypass {
		return nil
	}
	if err := e.pauseGuard(); err != nil {
		return err
	}
	controls, err := tx.loadControls()
	if err != nil {
		return err
	}
	if controls.Paused {
		return nativecommon.ErrModulePaused
	}
	return nil
}

func validateAmount(amount *big.Int) error {
	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	return nil
}

func validateAddresses(addrs ...common.Address) error {
	for _, addr := range addrs {
		if addr == (common.Address{}) {
			return ErrInvalidAddress
		}
	}
	return nil
}

// AddReserve registers a new asset. The reserve starts active with rates
// derived from an empty pool.
func (e *Engine) AddReserve(ctx context.Context, asset common.Address, rp ReserveParams) error {
	if err := validateAddresses(asset); err != nil {
		return err
	}
	if err := e.params.validateReserveParams(rp); err != nil {
		return err
	}
	err := e.execute(ctx, "add_reserve", func(ctx context.Context, tx *stateTx, _ *transferLog, now uint64) error {
		existing, err := tx.lookupReserve(asset)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrReserveExists
		}
		model := e.params.DefaultInterestModel
		if rp.Model != nil {
			model = *rp.Model
		}
		reserve := &Reserve{
			Asset:                asset,
			TotalDeposited:       zero(),
			TotalBorrowed:        zero(),
			Active:               true,
			LoanToValue:          rp.LoanToValue,
			LiquidationThreshold: rp.LiquidationThreshold,
			MaxCapacity:          copyInt(rp.MaxCapacity),
			ReserveFactor:        rp.ReserveFactor,
			CollectedFees:        zero(),
			Decimals:             rp.Decimals,
			Model:                model,
		}
		refreshRates(reserve, now)
		return tx.createReserve(reserve)
	})
	if err != nil {
		return err
	}
	e.logger.Info("lending reserve added", "asset", asset.Hex(),
		"ltv", rp.LoanToValue, "liquidationThreshold", rp.LiquidationThreshold)
	return nil
}

// SetReserveActive enables or disables new deposits and borrows in a reserve.
func (e *Engine) SetReserveActive(ctx context.Context, asset common.Address, active bool) error {
	return e.updateReserve(ctx, "set_reserve_active", asset, func(r *Reserve) error {
		r.Active = active
		return nil
	})
}

// SetEmergencyWithdraw toggles whether withdrawals and repayments of the asset
// stay available while the protocol is paused.
func (e *Engine) SetEmergencyWithdraw(ctx context.Context, asset common.Address, enabled bool) error {
	return e.updateReserve(ctx, "set_emergency_withdraw", asset, func(r *Reserve) error {
		r.EmergencyWithdraw = enabled
		return nil
	})
}

// SetRiskParameters replaces the LTV, liquidation threshold, reserve factor
// and capacity of a reserve. Accrual is lazy and per user: positions not
// touched since their last action accrue the whole elapsed interval at the
// rates and reserve factor in force when they are next touched.
func (e *Engine) SetRiskParameters(ctx context.Context, asset common.Address, rp ReserveParams) error {
	if err := e.params.validateReserveParams(rp); err != nil {
		return err
	}
	return e.updateReserve(ctx, "set_risk_parameters", asset, func(r *Reserve) error {
		r.LoanToValue = rp.LoanToValue
		r.LiquidationThreshold = rp.LiquidationThreshold
		r.ReserveFactor = rp.ReserveFactor
		r.MaxCapacity = copyInt(rp.MaxCapacity)
		if rp.Decimals != 0 {
			r.Decimals = rp.Decimals
		}
		if rp.Model != nil {
			r.Model = *rp.Model
		}
		return nil
	})
}

// SetInterestModel swaps the rate curve of a reserve. As with
// SetRiskParameters, the new rates also apply to the interval a position has
// not yet accrued.
func (e *Engine) SetInterestModel(ctx context.Context, asset common.Address, model InterestModel) error {
	if err := model.Validate(); err != nil {
		return err
	}
	return e.updateReserve(ctx, "set_interest_model", asset, func(r *Reserve) error {
		r.Model = model
		return nil
	})
}

func (e *Engine) updateReserve(ctx context.Context, action string, asset common.Address, mutate func(*Reserve) error) error {
	return e.execute(ctx, action, func(ctx context.Context, tx *stateTx, _ *transferLog, now uint64) error {
		reserve, err := tx.reserve(asset)
		if err != nil {
			return err
		}
		if err := mutate(reserve); err != nil {
			return err
		}
		refreshRates(reserve, now)
		tx.putReserve(reserve)
		return nil
	})
}

// SetFeeRecipient configures where WithdrawFees pays out.
func (e *Engine) SetFeeRecipient(ctx context.Context, recipient common.Address) error {
	if err := validateAddresses(recipient); err != nil {
		return err
	}
	return e.execute(ctx, "set_fee_recipient", func(ctx context.Context, tx *stateTx, _ *transferLog, _ uint64) error {
		controls, err := tx.loadControls()
		if err != nil {
			return err
		}
		controls.FeeRecipient = recipient
		tx.putControls()
		return nil
	})
}

// SetPaused toggles the protocol-wide pause.
func (e *Engine) SetPaused(ctx context.Context, paused bool) error {
	err := e.execute(ctx, "set_paused", func(ctx context.Context, tx *stateTx, _ *transferLog, _ uint64) error {
		controls, err := tx.loadControls()
		if err != nil {
			return err
		}
		controls.Paused = paused
		tx.putControls()
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Warn("lending pause toggled", "paused", paused)
	return nil
}

func (e *Engine) pauseGuard() error {
	if e.pauses == nil {
		return nil
	}
	defer e.callout()()
	return nativecommon.Guard(e.pauses, ModuleName)
}

// Controls returns the protocol-wide switches.
func (e *Engine) Controls(ctx context.Context) (*Controls, error) {
	var out *Controls
	err := e.view(ctx, func(ctx context.Context, tx *stateTx, _ *transferLog, _ uint64) error {
		controls, err := tx.loadControls()
		if err != nil {
			return err
		}
		out = controls.Clone()
		if e.pauseGuard() != nil {
			out.Paused = true
		}
		return nil
	})
	return out, err
}

// WithdrawFees pays collected reserve fees to the configured fee recipient.
func (e *Engine) WithdrawFees(ctx context.Context, asset common.Address, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	err := e.execute(ctx, "withdraw_fees", func(ctx context.Context, tx *stateTx, xfer *transferLog, now uint64) error {
		controls, err := tx.loadControls()
		if err != nil {
			return err
		}
		if controls.FeeRecipient == (common.Address{}) {
			return ErrFeeRecipient
		}
		reserve, err := tx.reserve(asset)
		if err != nil {
			return err
		}
		if reserve.CollectedFees.Cmp(amount) < 0 {
			return fmt.Errorf("%w: collected fees %s", ErrInsufficientBalance, reserve.CollectedFees)
		}
		if reserve.AvailableLiquidity().Cmp(amount) < 0 {
			return ErrInsufficientLiquidity
		}
		reserve.CollectedFees = new(big.Int).Sub(reserve.CollectedFees, amount)
		refreshRates(reserve, now)
		tx.putReserve(reserve)
		if err := xfer.transfer(ctx, asset, e.moduleAddress, controls.FeeRecipient, amount); err != nil {
			return err
		}
		tx.emit(events.LendingFeesWithdrawn{Asset: asset, Recipient: controls.FeeRecipient, Amount: new(big.Int).Set(amount), Timestamp: now})
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("lending fees withdrawn", "asset", asset.Hex(), "amount", amount.String())
	return nil
}
