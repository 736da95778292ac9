package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"crossledger/native/lending"
	"crossledger/observability"
)

// PriceSetter accepts administrative price updates.
type PriceSetter interface {
	SetPrice(asset common.Address, price *big.Int) error
}

type localAdapter struct {
	engine  *lending.Engine
	prices  PriceSetter
	metrics *observability.LendingMetricsRegistry
}

// NewLocalAdapter wires an in-process lending engine into the Engine
// abstraction expected by the service. prices may be nil, in which case
// SetPrice is rejected.
func NewLocalAdapter(engine *lending.Engine, prices PriceSetter, metrics *observability.LendingMetricsRegistry) Engine {
	return &localAdapter{engine: engine, prices: prices, metrics: metrics}
}

func (a *localAdapter) observe(action string, start time.Time, err error) {
	a.metrics.ObserveAction(action, time.Since(start), err)
}

func (a *localAdapter) Deposit(ctx context.Context, user, asset, amount string) (pos Position, err error) {
	defer func(start time.Time) { a.observe("deposit", start, err) }(time.Now())
	return a.positionAction(ctx, user, asset, amount, a.engine.Deposit)
}

func (a *localAdapter) Withdraw(ctx context.Context, user, asset, amount string) (pos Position, err error) {
	defer func(start time.Time) { a.observe("withdraw", start, err) }(time.Now())
	return a.positionAction(ctx, user, asset, amount, a.engine.Withdraw)
}

func (a *localAdapter) Borrow(ctx context.Context, user, asset, amount string) (pos Position, err error) {
	defer func(start time.Time) { a.observe("borrow", start, err) }(time.Now())
	return a.positionAction(ctx, user, asset, amount, a.engine.Borrow)
}

type positionFn func(ctx context.Context, user, asset common.Address, amount *big.Int) (*lending.Position, error)

func (a *localAdapter) positionAction(ctx context.Context, user, asset, amount string, fn positionFn) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	userAddr, err := parseAddress(user)
	if err != nil {
		return Position{}, err
	}
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return Position{}, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return Position{}, err
	}
	position, moduleErr := retryBusy(ctx, func() (*lending.Position, error) {
		return fn(ctx, userAddr, assetAddr, value)
	})
	if moduleErr != nil {
		return Position{}, translateModuleError(moduleErr)
	}
	a.recordUtilization(ctx, assetAddr)
	return toPosition(position), nil
}

func (a *localAdapter) Repay(ctx context.Context, payer, user, asset, amount string) (repaid string, err error) {
	defer func(start time.Time) { a.observe("repay", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return "", err
	}
	userAddr, err := parseAddress(user)
	if err != nil {
		return "", err
	}
	payerAddr := userAddr
	if strings.TrimSpace(payer) != "" {
		if payerAddr, err = parseAddress(payer); err != nil {
			return "", err
		}
	}
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return "", err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return "", err
	}
	paid, moduleErr := retryBusy(ctx, func() (*big.Int, error) {
		return a.engine.RepayOnBehalf(ctx, payerAddr, userAddr, assetAddr, value)
	})
	if moduleErr != nil {
		return "", translateModuleError(moduleErr)
	}
	a.recordUtilization(ctx, assetAddr)
	return formatAmount(paid), nil
}

func (a *localAdapter) SetCollateral(ctx context.Context, user, asset string, enabled bool) (pos Position, err error) {
	defer func(start time.Time) { a.observe("collateral", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	userAddr, err := parseAddress(user)
	if err != nil {
		return Position{}, err
	}
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return Position{}, err
	}
	moduleErr := retryBusyErr(ctx, func() error {
		return a.engine.SetCollateral(ctx, userAddr, assetAddr, enabled)
	})
	if moduleErr != nil {
		return Position{}, translateModuleError(moduleErr)
	}
	position, moduleErr := retryBusy(ctx, func() (*lending.Position, error) {
		return a.engine.Position(ctx, assetAddr, userAddr)
	})
	if moduleErr != nil {
		return Position{}, translateModuleError(moduleErr)
	}
	return toPosition(position), nil
}

func (a *localAdapter) Liquidate(ctx context.Context, liquidator, user, debtAsset, collateralAsset, amount string) (out Liquidation, err error) {
	defer func(start time.Time) { a.observe("liquidate", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return Liquidation{}, err
	}
	addrs, err := parseAddresses(liquidator, user, debtAsset, collateralAsset)
	if err != nil {
		return Liquidation{}, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return Liquidation{}, err
	}
	result, moduleErr := retryBusy(ctx, func() (*lending.LiquidationResult, error) {
		return a.engine.Liquidate(ctx, addrs[0], addrs[1], addrs[2], addrs[3], value)
	})
	if moduleErr != nil {
		return Liquidation{}, translateModuleError(moduleErr)
	}
	a.recordUtilization(ctx, addrs[2], addrs[3])
	return Liquidation{
		DebtRepaid:         formatAmount(result.DebtRepaid),
		CollateralSeized:   formatAmount(result.CollateralSeized),
		DebtValue:          formatAmount(result.DebtValue),
		BonusValue:         formatAmount(result.BonusValue),
		HealthFactorBefore: formatAmount(result.HealthFactorBefore),
		HealthFactorAfter:  formatAmount(result.HealthFactorAfter),
	}, nil
}

func (a *localAdapter) GetReserve(ctx context.Context, asset string) (Reserve, error) {
	if err := ctx.Err(); err != nil {
		return Reserve{}, err
	}
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return Reserve{}, err
	}
	view, moduleErr := retryBusy(ctx, func() (*lending.ReserveView, error) {
		return a.engine.ReserveRates(ctx, assetAddr)
	})
	if moduleErr != nil {
		return Reserve{}, translateModuleError(moduleErr)
	}
	return a.toReserve(view), nil
}

func (a *localAdapter) ListReserves(ctx context.Context) ([]Reserve, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	views, moduleErr := retryBusy(ctx, func() ([]*lending.ReserveView, error) {
		return a.engine.ListReserves(ctx)
	})
	if moduleErr != nil {
		return nil, translateModuleError(moduleErr)
	}
	out := make([]Reserve, 0, len(views))
	for _, view := range views {
		out = append(out, a.toReserve(view))
	}
	return out, nil
}

func (a *localAdapter) GetPositions(ctx context.Context, user string) ([]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userAddr, err := parseAddress(user)
	if err != nil {
		return nil, err
	}
	positions, moduleErr := retryBusy(ctx, func() ([]*lending.Position, error) {
		return a.engine.Positions(ctx, userAddr)
	})
	if moduleErr != nil {
		return nil, translateModuleError(moduleErr)
	}
	out := make([]Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPosition(p))
	}
	return out, nil
}

func (a *localAdapter) GetHealth(ctx context.Context, user string) (Health, error) {
	if err := ctx.Err(); err != nil {
		return Health{}, err
	}
	userAddr, err := parseAddress(user)
	if err != nil {
		return Health{}, err
	}
	snap, moduleErr := retryBusy(ctx, func() (*lending.UserSnapshot, error) {
		return a.engine.Snapshot(ctx, userAddr)
	})
	if moduleErr != nil {
		return Health{}, translateModuleError(moduleErr)
	}
	return toHealth(snap), nil
}

func (a *localAdapter) Simulate(ctx context.Context, user, asset string, changeBps int64) (Simulation, error) {
	if err := ctx.Err(); err != nil {
		return Simulation{}, err
	}
	userAddr, err := parseAddress(user)
	if err != nil {
		return Simulation{}, err
	}
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return Simulation{}, err
	}
	sim, moduleErr := retryBusy(ctx, func() (*lending.PriceSimulation, error) {
		return a.engine.SimulatePriceChange(ctx, userAddr, assetAddr, changeBps)
	})
	if moduleErr != nil {
		return Simulation{}, translateModuleError(moduleErr)
	}
	return Simulation{
		Asset:        sim.Asset.Hex(),
		ChangeBps:    sim.ChangeBps,
		Before:       formatAmount(sim.Before),
		After:        formatAmount(sim.After),
		TierBefore:   string(sim.TierBefore),
		TierAfter:    string(sim.TierAfter),
		Liquidatable: sim.Liquidatable,
	}, nil
}

func (a *localAdapter) SetPrice(ctx context.Context, asset, price string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.prices == nil {
		return fmt.Errorf("price feed not configured: %w", ErrInternal)
	}
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return err
	}
	value, err := parseAmount(price)
	if err != nil {
		return err
	}
	if err := a.prices.SetPrice(assetAddr, value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

func (a *localAdapter) SetReserveActive(ctx context.Context, asset string, active bool) error {
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return err
	}
	return translateModuleError(retryBusyErr(ctx, func() error {
		return a.engine.SetReserveActive(ctx, assetAddr, active)
	}))
}

func (a *localAdapter) SetEmergencyWithdraw(ctx context.Context, asset string, enabled bool) error {
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return err
	}
	return translateModuleError(retryBusyErr(ctx, func() error {
		return a.engine.SetEmergencyWithdraw(ctx, assetAddr, enabled)
	}))
}

func (a *localAdapter) SetPaused(ctx context.Context, paused bool) error {
	if err := retryBusyErr(ctx, func() error { return a.engine.SetPaused(ctx, paused) }); err != nil {
		return translateModuleError(err)
	}
	a.metrics.SetPaused(paused)
	return nil
}

func (a *localAdapter) GetControls(ctx context.Context) (Controls, error) {
	controls, err := retryBusy(ctx, func() (*lending.Controls, error) { return a.engine.Controls(ctx) })
	if err != nil {
		return Controls{}, translateModuleError(err)
	}
	out := Controls{Paused: controls.Paused}
	if controls.FeeRecipient != (common.Address{}) {
		out.FeeRecipient = controls.FeeRecipient.Hex()
	}
	return out, nil
}

func (a *localAdapter) WithdrawFees(ctx context.Context, asset, amount string) (err error) {
	defer func(start time.Time) { a.observe("withdraw_fees", start, err) }(time.Now())
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return err
	}
	return translateModuleError(retryBusyErr(ctx, func() error {
		return a.engine.WithdrawFees(ctx, assetAddr, value)
	}))
}

// recordUtilization refreshes the utilisation gauge of reserves touched by a
// committed action. A failed read only leaves the gauge stale.
func (a *localAdapter) recordUtilization(ctx context.Context, assets ...common.Address) {
	if a.metrics == nil {
		return
	}
	for _, asset := range assets {
		view, err := retryBusy(ctx, func() (*lending.ReserveView, error) {
			return a.engine.ReserveRates(ctx, asset)
		})
		if err != nil {
			continue
		}
		a.metrics.RecordUtilization(asset.Hex(), view.Utilization)
	}
}

func (a *localAdapter) toReserve(view *lending.ReserveView) Reserve {
	r := view.Reserve
	a.metrics.RecordUtilization(r.Asset.Hex(), view.Utilization)
	return Reserve{
		Asset:                r.Asset.Hex(),
		Active:               r.Active,
		EmergencyWithdraw:    r.EmergencyWithdraw,
		Decimals:             r.Decimals,
		TotalDeposited:       formatAmount(r.TotalDeposited),
		TotalBorrowed:        formatAmount(r.TotalBorrowed),
		AvailableLiquidity:   formatAmount(view.AvailableLiquidity),
		CollectedFees:        formatAmount(r.CollectedFees),
		MaxCapacity:          formatAmount(r.MaxCapacity),
		UtilizationBps:       view.Utilization,
		BorrowRateBps:        r.BorrowRate,
		LiquidityRateBps:     r.LiquidityRate,
		LoanToValueBps:       r.LoanToValue,
		LiquidationThreshold: r.LiquidationThreshold,
		ReserveFactorBps:     r.ReserveFactor,
		LastUpdateTime:       r.LastUpdateTime,
	}
}

func toPosition(p *lending.Position) Position {
	if p == nil {
		return Position{}
	}
	return Position{
		Asset:          p.Asset.Hex(),
		User:           p.User.Hex(),
		Deposited:      formatAmount(p.Deposited),
		Borrowed:       formatAmount(p.Borrowed),
		IsCollateral:   p.IsCollateral,
		LastUpdateTime: p.LastUpdateTime,
	}
}

func toHealth(s *lending.UserSnapshot) Health {
	out := Health{
		User:                    s.User.Hex(),
		AsOf:                    s.AsOf,
		TotalCollateralValue:    formatAmount(s.TotalCollateralValue),
		TotalBorrowValue:        formatAmount(s.TotalBorrowValue),
		WeightedCollateralValue: formatAmount(s.WeightedCollateralValue),
		BorrowCapacity:          formatAmount(s.BorrowCapacity),
		AvailableBorrows:        formatAmount(s.AvailableBorrows),
		HealthFactor:            formatAmount(s.HealthFactor),
		HealthFactorDecimal:     formatHealthFactor(s),
		Tier:                    string(s.Tier),
		Assets:                  make([]AssetExposure, 0, len(s.Assets)),
	}
	for _, line := range s.Assets {
		exposure := AssetExposure{
			Asset:        line.Asset.Hex(),
			Deposited:    formatAmount(line.Deposited),
			Borrowed:     formatAmount(line.Borrowed),
			DepositValue: formatAmount(line.DepositValue),
			BorrowValue:  formatAmount(line.BorrowValue),
			IsCollateral: line.IsCollateral,
			Priced:       line.Priced,
		}
		if line.Priced {
			exposure.Price = formatAmount(line.Price)
		}
		out.Assets = append(out.Assets, exposure)
	}
	for _, asset := range s.Unpriced {
		out.Unpriced = append(out.Unpriced, asset.Hex())
	}
	return out
}

// formatHealthFactor renders the 1e18 scaled factor as a decimal ratio.
func formatHealthFactor(s *lending.UserSnapshot) string {
	if !s.HasDebt() {
		return "infinite"
	}
	if s.HealthFactor == nil || s.HealthFactor.Sign() <= 0 {
		return "0"
	}
	rat := new(big.Rat).SetFrac(s.HealthFactor, lending.HealthFactorOne)
	decimal := strings.TrimRight(strings.TrimRight(rat.FloatString(18), "0"), ".")
	if decimal == "" {
		return "0"
	}
	return decimal
}

func parseAddress(addr string) (common.Address, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("address required: %w", ErrInvalidArgument)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q: %w", trimmed, ErrInvalidArgument)
	}
	out := common.HexToAddress(trimmed)
	if out == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address: %w", ErrInvalidArgument)
	}
	return out, nil
}

func parseAddresses(values ...string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, value := range values {
		addr, err := parseAddress(value)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// parseAmount accepts positive base-10 integers that fit in 256 bits.
func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required: %w", ErrInvalidArgument)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", trimmed, ErrInvalidArgument)
	}
	if value.IsZero() {
		return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidArgument)
	}
	return value.ToBig(), nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
