package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crossledger/core/events"
)

// Deposit pulls amount of asset from user into the pool. The first deposit
// into an asset with a non-zero liquidation threshold is enabled as
// collateral.
func (e *Engine) Deposit(ctx context.Context, user, asset common.Address, amount *big.Int) (*Position, error) {
	if err := validateAddresses(user, asset); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	var out *Position
	err := e.execute(ctx, "deposit", func(ctx context.Context, tx *stateTx, xfer *transferLog, now uint64) error {
		if err := e.guard(tx, false); err != nil {
			return err
		}
		if _, err := tx.activeReserve(asset); err != nil {
			return err
		}
		if err := tx.trackAsset(user, asset, e.params.MaxAssetsPerUser); err != nil {
			return err
		}
		if err := tx.accrueAccount(user, now); err != nil {
			return err
		}
		reserve, pos, err := tx.accrueOne(asset, user, now)
		if err != nil {
			return err
		}

		newTotal := new(big.Int).Add(reserve.TotalDeposited, amount)
		if reserve.MaxCapacity.Sign() > 0 && newTotal.Cmp(reserve.MaxCapacity) > 0 {
			return fmt.Errorf("%w: capacity %s", ErrCapacityExceeded, reserve.MaxCapacity)
		}
		if pos.Deposited.Sign() == 0 && reserve.LiquidationThreshold > 0 {
			pos.IsCollateral = true
		}
		pos.Deposited = new(big.Int).Add(pos.Deposited, amount)
		reserve.TotalDeposited = newTotal
		refreshRates(reserve, now)
		tx.putReserve(reserve)
		tx.putPosition(pos)

		if err := xfer.transfer(ctx, asset, user, e.moduleAddress, amount); err != nil {
			return err
		}
		tx.emit(events.LendingDeposit{User: user, Asset: asset, Amount: new(big.Int).Set(amount), Collateral: pos.IsCollateral, Timestamp: now})
		out = pos.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Withdraw releases amount of the user's deposit. Withdrawing collateral is
// refused when it would leave the user below the liquidation threshold.
func (e *Engine) Withdraw(ctx context.Context, user, asset common.Address, amount *big.Int) (*Position, error) {
	if err := validateAddresses(user, asset); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	var out *Position
	err := e.execute(ctx, "withdraw", func(ctx context.Context, tx *stateTx, xfer *transferLog, now uint64) error {
		reserve, err := tx.reserve(asset)
		if err != nil {
			return err
		}
		if err := e.guard(tx, reserve.EmergencyWithdraw); err != nil {
			return err
		}
		if err := tx.accrueAccount(user, now); err != nil {
			return err
		}
		reserve, pos, err := tx.accrueOne(asset, user, now)
		if err != nil {
			return err
		}
		if pos.Deposited.Cmp(amount) < 0 {
			return fmt.Errorf("%w: deposited %s", ErrInsufficientBalance, pos.Deposited)
		}
		if reserve.AvailableLiquidity().Cmp(amount) < 0 {
			return ErrInsufficientLiquidity
		}
		remaining := new(big.Int).Sub(pos.Deposited, amount)
		if pos.IsCollateral {
			snap, err := e.snapshot(ctx, tx, user, now, e.bestEffortPrice, &snapshotAdjust{depositAsset: asset, depositOverride: remaining})
			if err != nil {
				return err
			}
			if err := ensureHealthy(snap); err != nil {
				return err
			}
		}
		total, err := checkedSub(reserve.TotalDeposited, amount)
		if err != nil {
			return err
		}
		pos.Deposited = remaining
		reserve.TotalDeposited = total
		refreshRates(reserve, now)
		tx.putReserve(reserve)
		tx.putPosition(pos)

		if err := xfer.transfer(ctx, asset, e.moduleAddress, user, amount); err != nil {
			return err
		}
		tx.emit(events.LendingWithdraw{User: user, Asset: asset, Amount: new(big.Int).Set(amount), Timestamp: now})
		out = pos.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Borrow draws amount of asset against the user's collateral. The borrow is
// accepted while the resulting health factor stays at or above
// HealthFactorOne.
func (e *Engine) Borrow(ctx context.Context, user, asset common.Address, amount *big.Int) (*Position, error) {
	if err := validateAddresses(user, asset); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	var out *Position
	err := e.execute(ctx, "borrow", func(ctx context.Context, tx *stateTx, xfer *transferLog, now uint64) error {
		if err := e.guard(tx, false); err != nil {
			return err
		}
		if _, err := tx.activeReserve(asset); err != nil {
			return err
		}
		if err := tx.trackAsset(user, asset, e.params.MaxAssetsPerUser); err != nil {
			return err
		}
		if err := tx.accrueAccount(user, now); err != nil {
			return err
		}
		reserve, pos, err := tx.accrueOne(asset, user, now)
		if err != nil {
			return err
		}
		if reserve.AvailableLiquidity().Cmp(amount) < 0 {
			return ErrInsufficientLiquidity
		}
		price, err := e.requirePrice(ctx, asset)
		if err != nil {
			return err
		}
		preview := new(big.Int).Mul(amount, price)
		snap, err := e.snapshot(ctx, tx, user, now, e.bestEffortPrice, &snapshotAdjust{extraBorrow: preview})
		if err != nil {
			return err
		}
		if err := ensureHealthy(snap); err != nil {
			return err
		}

		pos.Borrowed = new(big.Int).Add(pos.Borrowed, amount)
		reserve.TotalBorrowed = new(big.Int).Add(reserve.TotalBorrowed, amount)
		refreshRates(reserve, now)
		tx.putReserve(reserve)
		tx.putPosition(pos)

		if err := xfer.transfer(ctx, asset, e.moduleAddress, user, amount); err != nil {
			return err
		}
		tx.emit(events.LendingBorrow{User: user, Asset: asset, Amount: new(big.Int).Set(amount), HealthFactor: snap.HealthFactor, Timestamp: now})
		out = pos.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Repay settles up to amount of the user's debt in asset and returns the
// amount actually repaid.
func (e *Engine) Repay(ctx context.Context, user, asset common.Address, amount *big.Int) (*big.Int, error) {
	return e.RepayOnBehalf(ctx, user, user, asset, amount)
}

// RepayOnBehalf pulls the repayment from payer and credits it against user's
// debt. Payments above the outstanding debt are capped.
func (e *Engine) RepayOnBehalf(ctx context.Context, payer, user, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := validateAddresses(payer, user, asset); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	var repaid *big.Int
	err := e.execute(ctx, "repay", func(ctx context.Context, tx *stateTx, xfer *transferLog, now uint64) error {
		reserve, err := tx.reserve(asset)
		if err != nil {
			return err
		}
		if err := e.guard(tx, reserve.EmergencyWithdraw); err != nil {
			return err
		}
		if err := tx.accrueAccount(user, now); err != nil {
			return err
		}
		reserve, pos, err := tx.accrueOne(asset, user, now)
		if err != nil {
			return err
		}
		if pos.Borrowed.Sign() == 0 {
			return ErrNoDebtToRepay
		}
		repaid = minInt(amount, pos.Borrowed)
		total, err := checkedSub(reserve.TotalBorrowed, repaid)
		if err != nil {
			return err
		}
		pos.Borrowed = new(big.Int).Sub(pos.Borrowed, repaid)
		reserve.TotalBorrowed = total
		refreshRates(reserve, now)
		tx.putReserve(reserve)
		tx.putPosition(pos)

		if err := xfer.transfer(ctx, asset, payer, e.moduleAddress, repaid); err != nil {
			return err
		}
		tx.emit(events.LendingRepay{Payer: payer, User: user, Asset: asset, Amount: new(big.Int).Set(repaid), Timestamp: now})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repaid, nil
}

// SetCollateral toggles whether the user's deposit in asset backs their debt.
// Disabling is refused when it would leave the user below the liquidation
// threshold.
func (e *Engine) SetCollateral(ctx context.Context, user, asset common.Address, enabled bool) error {
	if err := validateAddresses(user, asset); err != nil {
		return err
	}
	return e.execute(ctx, "set_collateral", func(ctx context.Context, tx *stateTx, _ *transferLog, now uint64) error {
		if err := e.guard(tx, false); err != nil {
			return err
		}
		if err := tx.accrueAccount(user, now); err != nil {
			return err
		}
		reserve, pos, err := tx.accrueOne(asset, user, now)
		if err != nil {
			return err
		}
		if pos.Deposited.Sign() == 0 {
			return fmt.Errorf("%w: no deposit in %s", ErrInsufficientBalance, asset.Hex())
		}
		if pos.IsCollateral == enabled {
			return nil
		}
		if enabled && reserve.LiquidationThreshold == 0 {
			return ErrNotCollateralAsset
		}
		if !enabled {
			snap, err := e.snapshot(ctx, tx, user, now, e.bestEffortPrice, &snapshotAdjust{depositAsset: asset, depositOverride: zero()})
			if err != nil {
				return err
			}
			if err := ensureHealthy(snap); err != nil {
				return err
			}
		}
		pos.IsCollateral = enabled
		tx.putPosition(pos)
		tx.emit(events.LendingCollateral{User: user, Asset: asset, Enabled: enabled, Timestamp: now})
		return nil
	})
}
