package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"crossledger/core/events"
)

func setupUnderwater(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	ctx := context.Background()
	h.addReserve(t, assetA, 7_500, 8_000, 0, 100)
	h.addReserve(t, assetB, 7_500, 8_000, 0, 100)
	h.deposit(t, bob, assetB, 1_000)
	h.deposit(t, alice, assetA, 1_000)
	if _, err := h.engine.Borrow(ctx, alice, assetB, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.fund(t, assetB, carol, 1_000)
	if _, err := h.engine.Liquidate(ctx, carol, alice, assetB, assetA, big.NewInt(100)); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected healthy borrower to be protected, got %v", err)
	}
	if err := h.engine.SetRiskParameters(ctx, assetA, ReserveParams{LoanToValue: 4_000, LiquidationThreshold: 4_000}); err != nil {
		t.Fatalf("lower threshold: %v", err)
	}
	return h
}

func TestLiquidateCloseFactorAndBonus(t *testing.T) {
	h := setupUnderwater(t)
	ctx := context.Background()

	result, err := h.engine.Liquidate(ctx, carol, alice, assetB, assetA, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.DebtRepaid.Int64() != 250 {
		t.Fatalf("expected 250 repaid, got %s", result.DebtRepaid)
	}
	if result.CollateralSeized.Int64() != 275 {
		t.Fatalf("expected 275 seized, got %s", result.CollateralSeized)
	}
	if result.DebtValue.Int64() != 25_000 || result.BonusValue.Int64() != 2_500 {
		t.Fatalf("unexpected values: debt %s bonus %s", result.DebtValue, result.BonusValue)
	}
	wantBefore := new(big.Int).Mul(big.NewInt(8), new(big.Int).Div(HealthFactorOne, big.NewInt(10)))
	if result.HealthFactorBefore.Cmp(wantBefore) != 0 {
		t.Fatalf("unexpected health factor before: %s", result.HealthFactorBefore)
	}
	wantAfter := new(big.Int).Mul(big.NewInt(116), new(big.Int).Div(HealthFactorOne, big.NewInt(100)))
	if result.HealthFactorAfter.Cmp(wantAfter) != 0 {
		t.Fatalf("unexpected health factor after: %s", result.HealthFactorAfter)
	}

	if got := h.position(t, assetB, alice).Borrowed; got.Int64() != 250 {
		t.Fatalf("unexpected remaining debt %s", got)
	}
	if got := h.position(t, assetA, alice).Deposited; got.Int64() != 725 {
		t.Fatalf("unexpected remaining collateral %s", got)
	}
	if got := h.ledger.BalanceOf(assetA, carol); got.Int64() != 275 {
		t.Fatalf("liquidator did not receive collateral: %s", got)
	}
	if got := h.ledger.BalanceOf(assetB, carol); got.Int64() != 750 {
		t.Fatalf("liquidator debt payment mismatch: %s", got)
	}
	if got := h.reserve(t, assetA).TotalDeposited; got.Int64() != 725 {
		t.Fatalf("unexpected collateral reserve total %s", got)
	}
	if got := h.reserve(t, assetB).TotalBorrowed; got.Int64() != 250 {
		t.Fatalf("unexpected debt reserve total %s", got)
	}

	recorded := h.events.Events()
	ev, ok := recorded[len(recorded)-1].(events.LendingLiquidation)
	if !ok {
		t.Fatalf("expected liquidation event, got %T", recorded[len(recorded)-1])
	}
	if ev.Liquidator != carol || ev.DebtRepaid.Int64() != 250 || ev.CollateralSeized.Int64() != 275 {
		t.Fatalf("unexpected liquidation event %+v", ev)
	}

	if _, err := h.engine.Liquidate(ctx, carol, alice, assetB, assetA, big.NewInt(1)); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("restored borrower must not be liquidatable, got %v", err)
	}
}

func TestLiquidateRequestedBelowCloseFactor(t *testing.T) {
	h := setupUnderwater(t)
	result, err := h.engine.Liquidate(context.Background(), carol, alice, assetB, assetA, big.NewInt(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.DebtRepaid.Int64() != 100 || result.CollateralSeized.Int64() != 110 {
		t.Fatalf("unexpected result repaid %s seized %s", result.DebtRepaid, result.CollateralSeized)
	}
}

func TestLiquidateSeizureCappedAtCollateral(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addReserve(t, assetA, 7_500, 8_000, 0, 100)
	h.addReserve(t, assetB, 7_500, 8_000, 0, 100)
	h.deposit(t, bob, assetB, 1_000)
	h.deposit(t, alice, assetA, 100)
	if _, err := h.engine.Borrow(ctx, alice, assetB, big.NewInt(70)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.prices.set(assetA, 10)
	h.fund(t, assetB, carol, 100)

	result, err := h.engine.Liquidate(ctx, carol, alice, assetB, assetA, big.NewInt(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.DebtRepaid.Int64() != 35 {
		t.Fatalf("expected close factor cap of 35, got %s", result.DebtRepaid)
	}
	if result.CollateralSeized.Int64() != 100 {
		t.Fatalf("expected seizure capped at 100, got %s", result.CollateralSeized)
	}
	if got := h.position(t, assetA, alice).Deposited; got.Sign() != 0 {
		t.Fatalf("expected collateral exhausted, got %s", got)
	}
}

func TestLiquidateRejections(t *testing.T) {
	h := setupUnderwater(t)
	ctx := context.Background()
	cases := []struct {
		name       string
		liquidator common.Address
		debt       common.Address
		collateral common.Address
		amount     *big.Int
		want       error
	}{
		{"self liquidation", alice, assetB, assetA, big.NewInt(10), ErrSelfLiquidation},
		{"same asset", carol, assetA, assetA, big.NewInt(10), ErrSameAsset},
		{"zero amount", carol, assetB, assetA, big.NewInt(0), ErrInvalidAmount},
		{"no debt in asset", carol, assetA, assetB, big.NewInt(10), ErrNoDebtToRepay},
		{"unknown reserve", carol, assetC, assetA, big.NewInt(10), ErrUnknownReserve},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Liquidate(ctx, tc.liquidator, alice, tc.debt, tc.collateral, tc.amount)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if Classify(err) != CategoryValidation && Classify(err) != CategoryInsolvency {
				t.Fatalf("unexpected category %s for %v", Classify(err), err)
			}
		})
	}
}

func TestLiquidateCollateralNotEnabled(t *testing.T) {
	h := setupUnderwater(t)
	ctx := context.Background()
	h.addReserve(t, assetC, 0, 0, 0, 100)
	h.deposit(t, alice, assetC, 500)
	if _, err := h.engine.Liquidate(ctx, carol, alice, assetB, assetC, big.NewInt(10)); !errors.Is(err, ErrNoCollateral) {
		t.Fatalf("expected ErrNoCollateral, got %v", err)
	}
}

func TestLiquidateRequiresPrices(t *testing.T) {
	h := setupUnderwater(t)
	h.prices.set(assetA, 0)
	// With collateral unpriced the borrower is unhealthy but cannot be settled.
	_, err := h.engine.Liquidate(context.Background(), carol, alice, assetB, assetA, big.NewInt(10))
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
	if got := h.ledger.BalanceOf(assetB, carol); got.Int64() != 1_000 {
		t.Fatalf("liquidator funds moved on failure: %s", got)
	}
}
