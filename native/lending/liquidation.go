package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crossledger/core/events"
)

// Liquidate lets liquidator repay part of an unhealthy user's debt in
// debtAsset in exchange for the user's collateralAsset at a bonus. The repaid
// amount is capped by the close factor and the seized collateral by the
// user's balance.
func (e *Engine) Liquidate(ctx context.Context, liquidator, user, debtAsset, collateralAsset common.Address, amount *big.Int) (*LiquidationResult, error) {
	if err := validateAddresses(liquidator, user, debtAsset, collateralAsset); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if liquidator == user {
		return nil, ErrSelfLiquidation
	}
	if debtAsset == collateralAsset {
		return nil, ErrSameAsset
	}
	var result *LiquidationResult
	err := e.execute(ctx, "liquidate", func(ctx context.Context, tx *stateTx, xfer *transferLog, now uint64) error {
		if err := e.guard(tx, false); err != nil {
			return err
		}
		if err := tx.accrueAccount(user, now); err != nil {
			return err
		}
		debtReserve, debtPos, err := tx.accrueOne(debtAsset, user, now)
		if err != nil {
			return err
		}
		collReserve, collPos, err := tx.accrueOne(collateralAsset, user, now)
		if err != nil {
			return err
		}

		before, err := e.snapshot(ctx, tx, user, now, e.bestEffortPrice, nil)
		if err != nil {
			return err
		}
		if before.HealthFactor.Cmp(HealthFactorOne) >= 0 {
			return ErrNotLiquidatable
		}
		if debtPos.Borrowed.Sign() == 0 {
			return ErrNoDebtToRepay
		}
		if !collPos.IsCollateral || collPos.Deposited.Sign() == 0 {
			return ErrNoCollateral
		}
		debtPrice, err := e.requirePrice(ctx, debtAsset)
		if err != nil {
			return err
		}
		collPrice, err := e.requirePrice(ctx, collateralAsset)
		if err != nil {
			return err
		}

		maxClose := PercentMul(debtPos.Borrowed, e.params.CloseFactor)
		if maxClose.Sign() == 0 {
			return ErrLiquidationTooSmall
		}
		repay := minInt(amount, maxClose)
		debtValue := new(big.Int).Mul(repay, debtPrice)
		bonusValue := PercentMul(debtValue, e.params.LiquidationPenalty)
		seize := new(big.Int).Add(debtValue, bonusValue)
		seize.Quo(seize, collPrice)
		if seize.Cmp(collPos.Deposited) > 0 {
			seize = new(big.Int).Set(collPos.Deposited)
		}
		if collReserve.AvailableLiquidity().Cmp(seize) < 0 {
			return fmt.Errorf("%w: collateral reserve %s", ErrInsufficientLiquidity, collateralAsset.Hex())
		}

		debtTotal, err := checkedSub(debtReserve.TotalBorrowed, repay)
		if err != nil {
			return err
		}
		collTotal, err := checkedSub(collReserve.TotalDeposited, seize)
		if err != nil {
			return err
		}
		debtPos.Borrowed = new(big.Int).Sub(debtPos.Borrowed, repay)
		debtReserve.TotalBorrowed = debtTotal
		collPos.Deposited = new(big.Int).Sub(collPos.Deposited, seize)
		collReserve.TotalDeposited = collTotal
		refreshRates(debtReserve, now)
		refreshRates(collReserve, now)
		tx.putReserve(debtReserve)
		tx.putReserve(collReserve)
		tx.putPosition(debtPos)
		tx.putPosition(collPos)

		if err := xfer.transfer(ctx, debtAsset, liquidator, e.moduleAddress, repay); err != nil {
			return err
		}
		if err := xfer.transfer(ctx, collateralAsset, e.moduleAddress, liquidator, seize); err != nil {
			return err
		}

		after, err := e.snapshot(ctx, tx, user, now, e.bestEffortPrice, nil)
		if err != nil {
			return err
		}
		result = &LiquidationResult{
			DebtRepaid:         repay,
			CollateralSeized:   seize,
			DebtValue:          debtValue,
			BonusValue:         bonusValue,
			HealthFactorBefore: before.HealthFactor,
			HealthFactorAfter:  after.HealthFactor,
		}
		tx.emit(events.LendingLiquidation{
			Liquidator:       liquidator,
			User:             user,
			DebtAsset:        debtAsset,
			CollateralAsset:  collateralAsset,
			DebtRepaid:       new(big.Int).Set(repay),
			CollateralSeized: new(big.Int).Set(seize),
			HealthFactor:     new(big.Int).Set(before.HealthFactor),
			Timestamp:        now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("lending liquidation",
		"liquidator", liquidator.Hex(),
		"user", user.Hex(),
		"debtAsset", debtAsset.Hex(),
		"collateralAsset", collateralAsset.Hex(),
		"repaid", result.DebtRepaid.String(),
		"seized", result.CollateralSeized.String(),
		"healthFactor", result.HealthFactorBefore.String())
	return result, nil
}
