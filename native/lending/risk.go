package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// priceLookup resolves a price for aggregation. ok is false for unpriced
// assets, which are skipped.
type priceLookup func(ctx context.Context, asset common.Address) (price *big.Int, ok bool)

// snapshotAdjust carries hypothetical changes applied while aggregating: a
// replacement deposit balance for one asset and an extra borrow value.
type snapshotAdjust struct {
	depositAsset    common.Address
	depositOverride *big.Int
	extraBorrow     *big.Int
}

// HealthFactor returns weighted * 1e18 / borrowValue, or MaxHealthFactor when
// there is no debt.
func HealthFactor(weightedCollateral, borrowValue *big.Int) *big.Int {
	if borrowValue == nil || borrowValue.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	hf := new(big.Int).Mul(weightedCollateral, HealthFactorOne)
	return hf.Quo(hf, borrowValue)
}

// TierFor buckets a health factor using the given thresholds.
func TierFor(hf *big.Int, t RiskTierThresholds) RiskTier {
	switch {
	case hf.Cmp(PercentMul(HealthFactorOne, t.Safe)) >= 0:
		return RiskSafe
	case hf.Cmp(PercentMul(HealthFactorOne, t.Medium)) >= 0:
		return RiskMedium
	case hf.Cmp(PercentMul(HealthFactorOne, t.High)) >= 0:
		return RiskHigh
	default:
		return RiskImminent
	}
}

func (e *Engine) quote(ctx context.Context, asset common.Address) (*big.Int, error) {
	defer e.callout()()
	return e.prices.AssetPrice(ctx, asset)
}

// bestEffortPrice reads the price source and treats zero, missing or failing
// quotes as unpriced.
func (e *Engine) bestEffortPrice(ctx context.Context, asset common.Address) (*big.Int, bool) {
	if e.prices == nil {
		return nil, false
	}
	price, err := e.quote(ctx, asset)
	if err != nil {
		e.logger.Warn("lending price lookup failed", "asset", asset.Hex(), "error", err)
		return nil, false
	}
	if !isPositive(price) {
		return nil, false
	}
	return price, true
}

// requirePrice returns the asset's price or ErrPriceUnavailable.
func (e *Engine) requirePrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	if e.prices == nil {
		return nil, ErrPriceSource
	}
	price, err := e.quote(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPriceUnavailable, asset.Hex(), err)
	}
	if !isPositive(price) {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset.Hex())
	}
	return new(big.Int).Set(price), nil
}

// snapshot aggregates the user's touched assets into a risk view. Positions
// are read from tx and must already be accrued.
func (e *Engine) snapshot(ctx context.Context, tx *stateTx, user common.Address, now uint64, prices priceLookup, adj *snapshotAdjust) (*UserSnapshot, error) {
	assets, err := tx.assetsOf(user)
	if err != nil {
		return nil, err
	}
	snap := &UserSnapshot{
		User:                    user,
		AsOf:                    now,
		TotalCollateralValue:    zero(),
		TotalBorrowValue:        zero(),
		WeightedCollateralValue: zero(),
		BorrowCapacity:          zero(),
		AvailableBorrows:        zero(),
	}
	for _, asset := range assets {
		reserve, err := tx.reserve(asset)
		if err != nil {
			return nil, err
		}
		pos, err := tx.position(asset, user)
		if err != nil {
			return nil, err
		}
		deposited := pos.Deposited
		if adj != nil && adj.depositOverride != nil && adj.depositAsset == asset {
			deposited = adj.depositOverride
		}
		if deposited.Sign() == 0 && pos.Borrowed.Sign() == 0 {
			continue
		}
		line := AssetExposure{
			Asset:        asset,
			Price:        zero(),
			Deposited:    copyInt(deposited),
			Borrowed:     copyInt(pos.Borrowed),
			DepositValue: zero(),
			BorrowValue:  zero(),
			IsCollateral: pos.IsCollateral,
		}
		price, ok := prices(ctx, asset)
		if !ok {
			snap.Unpriced = append(snap.Unpriced, asset)
			snap.Assets = append(snap.Assets, line)
			continue
		}
		line.Priced = true
		line.Price = new(big.Int).Set(price)
		if pos.IsCollateral && deposited.Sign() > 0 {
			value := new(big.Int).Mul(deposited, price)
			line.DepositValue = value
			snap.TotalCollateralValue.Add(snap.TotalCollateralValue, value)
			snap.WeightedCollateralValue.Add(snap.WeightedCollateralValue, PercentMul(value, reserve.LiquidationThreshold))
			snap.BorrowCapacity.Add(snap.BorrowCapacity, PercentMul(value, reserve.LoanToValue))
		}
		if pos.Borrowed.Sign() > 0 {
			value := new(big.Int).Mul(pos.Borrowed, price)
			line.BorrowValue = value
			snap.TotalBorrowValue.Add(snap.TotalBorrowValue, value)
		}
		snap.Assets = append(snap.Assets, line)
	}
	if adj != nil && adj.extraBorrow != nil {
		snap.TotalBorrowValue.Add(snap.TotalBorrowValue, adj.extraBorrow)
	}
	if snap.BorrowCapacity.Cmp(snap.TotalBorrowValue) > 0 {
		snap.AvailableBorrows = new(big.Int).Sub(snap.BorrowCapacity, snap.TotalBorrowValue)
	}
	snap.HealthFactor = HealthFactor(snap.WeightedCollateralValue, snap.TotalBorrowValue)
	snap.Tier = TierFor(snap.HealthFactor, e.params.Tiers)
	return snap, nil
}

// ensureHealthy fails with ErrHealthCheckFailed when the snapshot's health
// factor is below HealthFactorOne.
func ensureHealthy(snap *UserSnapshot) error {
	if snap.HealthFactor.Cmp(HealthFactorOne) < 0 {
		return fmt.Errorf("%w: health factor %s", ErrHealthCheckFailed, snap.HealthFactor)
	}
	return nil
}
