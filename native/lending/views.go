package lending

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reserve returns a copy of the stored reserve.
func (e *Engine) Reserve(ctx context.Context, asset common.Address) (*Reserve, error) {
	var out *Reserve
	err := e.view(ctx, func(ctx context.Context, tx *stateTx, _ *transferLog, _ uint64) error {
		reserve, err := tx.reserve(asset)
		if err != nil {
			return err
		}
		out = reserve.Clone()
		return nil
	})
	return out, err
}

// ReserveRates returns the reserve with its utilisation and idle liquidity.
func (e *Engine) ReserveRates(ctx context.Context, asset common.Address) (*ReserveView, error) {
	var out *ReserveView
	err := e.view(ctx, func(ctx context.Context, tx *stateTx, _ *transferLog, _ uint64) error {
		reserve, err := tx.reserve(asset)
		if err != nil {
			return err
		}
		out = reserveView(reserve)
		return nil
	})
	return out, err
}

// ListReserves returns every registered reserve in listing order.
func (e *Engine) ListReserves(ctx context.Context) ([]*ReserveView, error) {
	var out []*ReserveView
	err := e.view(ctx, func(ctx context.Context, tx *stateTx, _ *transferLog, _ uint64) error {
		index, err := tx.reserveIndex()
		if err != nil {
			return err
		}
		out = make([]*ReserveView, 0, len(index))
		for _, asset := range index {
			reserve, err := tx.reserve(asset)
			if err != nil {
				return err
			}
			out = append(out, reserveView(reserve))
		}
		return nil
	})
	return out, err
}

func reserveView(reserve *Reserve) *ReserveView {
	return &ReserveView{
		Reserve:            reserve.Clone(),
		Utilization:        reserve.Utilization(),
		AvailableLiquidity: reserve.AvailableLiquidity(),
	}
}

// Position returns the user's position in asset with interest accrued up to
// now. Nothing is persisted.
func (e *Engine) Position(ctx context.Context, asset, user common.Address) (*Position, error) {
	var out *Position
	err := e.view(ctx, func(ctx context.Context, tx *stateTx, _ *transferLog, now uint64) error {
		_, pos, err := tx.accrueOne(asset, user, now)
		if err != nil {
			return err
		}
		out = pos.Clone()
		return nil
	})
	return out, err
}

// Positions returns every position the user has touched, accrued up to now.
func (e *Engine) Positions(ctx context.Context, user common.Address) ([]*Position, error) {
	var out []*Position
	err := e.view(ctx, func(ctx context.Context, tx *stateTx, _ *transferLog, now uint64) error {
		assets, err := tx.assetsOf(user)
		if err != nil {
			return err
		}
		out = make([]*Position, 0, len(assets))
		for _, asset := range assets {
			_, pos, err := tx.accrueOne(asset, user, now)
			if err != nil {
				return err
			}
			out = append(out, pos.Clone())
		}
		return nil
	})
	return out, err
}

// UserAssets lists the assets the user has touched, in first-touch order.
func (e *Engine) UserAssets(ctx context.Context, user common.Address) ([]common.Address, error) {
	var out []common.Address
	err := e.view(ctx, func(ctx context.Context, tx *stateTx, _ *transferLog, _ uint64) error {
		assets, err := tx.assetsOf(user)
		if err != nil {
			return err
		}
		out = append([]common.Address(nil), assets...)
		return nil
	})
	return out, err
}

// Snapshot aggregates the user's positions into a risk view at current prices.
// Unpriced assets are skipped and listed in Unpriced.
func (e *Engine) Snapshot(ctx context.Context, user common.Address) (*UserSnapshot, error) {
	var out *UserSnapshot
	err := e.view(ctx, func(ctx context.Context, tx *stateTx, _ *transferLog, now uint64) error {
		if err := tx.accrueAccount(user, now); err != nil {
			return err
		}
		snap, err := e.snapshot(ctx, tx, user, now, e.bestEffortPrice, nil)
		if err != nil {
			return err
		}
		out = snap
		return nil
	})
	return out, err
}

// RiskTier classifies the user's current health factor.
func (e *Engine) RiskTier(ctx context.Context, user common.Address) (RiskTier, error) {
	snap, err := e.Snapshot(ctx, user)
	if err != nil {
		return "", err
	}
	return snap.Tier, nil
}

// SimulatePriceChange reports the user's health factor before and after
// moving asset's price by changeBps (negative for a drop). A drop of 10000 or
// more prices the asset at zero, which removes it from the aggregation.
func (e *Engine) SimulatePriceChange(ctx context.Context, user, asset common.Address, changeBps int64) (*PriceSimulation, error) {
	var out *PriceSimulation
	err := e.view(ctx, func(ctx context.Context, tx *stateTx, _ *transferLog, now uint64) error {
		if err := tx.accrueAccount(user, now); err != nil {
			return err
		}
		before, err := e.snapshot(ctx, tx, user, now, e.bestEffortPrice, nil)
		if err != nil {
			return err
		}
		shocked := func(ctx context.Context, target common.Address) (*big.Int, bool) {
			price, ok := e.bestEffortPrice(ctx, target)
			if !ok || target != asset {
				return price, ok
			}
			adjusted := shockPrice(price, changeBps)
			if adjusted.Sign() <= 0 {
				return nil, false
			}
			return adjusted, true
		}
		after, err := e.snapshot(ctx, tx, user, now, shocked, nil)
		if err != nil {
			return err
		}
		out = &PriceSimulation{
			Asset:        asset,
			ChangeBps:    changeBps,
			Before:       before.HealthFactor,
			After:        after.HealthFactor,
			TierBefore:   before.Tier,
			TierAfter:    after.Tier,
			Liquidatable: after.HealthFactor.Cmp(HealthFactorOne) < 0,
		}
		return nil
	})
	return out, err
}

// shockPrice returns price * (10000 + changeBps) / 10000, floored at zero.
func shockPrice(price *big.Int, changeBps int64) *big.Int {
	factor := big.NewInt(int64(BasisPoints))
	factor.Add(factor, big.NewInt(changeBps))
	if factor.Sign() <= 0 {
		return zero()
	}
	out := new(big.Int).Mul(price, factor)
	return out.Quo(out, basisPoints)
}
