package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"

	nativecommon "crossledger/native/common"
)

func TestAddReserveValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.AddReserve(ctx, assetA, ReserveParams{LoanToValue: 8_500, LiquidationThreshold: 8_000}); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters for ltv > lt, got %v", err)
	}
	if err := h.engine.AddReserve(ctx, assetA, ReserveParams{LoanToValue: 7_000, LiquidationThreshold: 10_001}); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters for lt > 10000, got %v", err)
	}
	if err := h.engine.AddReserve(ctx, assetA, ReserveParams{LoanToValue: 7_000, LiquidationThreshold: 8_000, ReserveFactor: 6_000}); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters for reserve factor above cap, got %v", err)
	}
	h.addReserve(t, assetA, 7_000, 8_000, 1_000, 1)
	h.addReserve(t, assetB, 0, 0, 0, 1)
	if err := h.engine.AddReserve(ctx, assetA, ReserveParams{LoanToValue: 7_000, LiquidationThreshold: 8_000}); !errors.Is(err, ErrReserveExists) {
		t.Fatalf("expected ErrReserveExists, got %v", err)
	}

	views, err := h.engine.ListReserves(ctx)
	if err != nil {
		t.Fatalf("list reserves: %v", err)
	}
	if len(views) != 2 || views[0].Reserve.Asset != assetA || views[1].Reserve.Asset != assetB {
		t.Fatalf("unexpected reserve listing: %+v", views)
	}
	reserve := views[0].Reserve
	if !reserve.Active || reserve.BorrowRate != 100 || reserve.LiquidityRate != 0 {
		t.Fatalf("unexpected initial reserve state: %+v", reserve)
	}
	if reserve.Model != DefaultInterestModel() {
		t.Fatalf("expected default interest model, got %+v", reserve.Model)
	}
}

func TestDepositPullsFundsAndEnablesCollateral(t *testing.T) {
	h := newHarness(t)
	h.addReserve(t, assetA, 7_500, 8_000, 0, 1)
	h.addReserve(t, assetB, 0, 0, 0, 1)
	h.deposit(t, alice, assetA, 500)
	h.deposit(t, alice, assetB, 300)

	if got := h.ledger.BalanceOf(assetA, alice); got.Sign() != 0 {
		t.Fatalf("expected alice balance drained, got %s", got)
	}
	if got := h.ledger.BalanceOf(assetA, moduleAddr); got.Int64() != 500 {
		t.Fatalf("expected module custody 500, got %s", got)
	}
	posA := h.position(t, assetA, alice)
	if posA.Deposited.Int64() != 500 || !posA.IsCollateral {
		t.Fatalf("unexpected collateral position: %+v", posA)
	}
	if posB := h.position(t, assetB, alice); posB.IsCollateral {
		t.Fatalf("zero-threshold asset must not become collateral")
	}
	if total := h.reserve(t, assetA).TotalDeposited; total.Int64() != 500 {
		t.Fatalf("unexpected reserve total %s", total)
	}
	assets, err := h.engine.UserAssets(context.Background(), alice)
	if err != nil {
		t.Fatalf("user assets: %v", err)
	}
	if len(assets) != 2 || assets[0] != assetA || assets[1] != assetB {
		t.Fatalf("unexpected user assets %v", assets)
	}
}

func TestDepositRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addReserve(t, assetA, 7_500, 8_000, 0, 1)
	if err := h.engine.SetRiskParameters(ctx, assetA, ReserveParams{LoanToValue: 7_500, LiquidationThreshold: 8_000, MaxCapacity: big.NewInt(100)}); err != nil {
		t.Fatalf("set risk parameters: %v", err)
	}
	h.fund(t, assetA, alice, 1_000)

	if _, err := h.engine.Deposit(ctx, alice, assetA, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := h.engine.Deposit(ctx, alice, assetC, big.NewInt(1)); !errors.Is(err, ErrUnknownReserve) {
		t.Fatalf("expected ErrUnknownReserve, got %v", err)
	}
	if _, err := h.engine.Deposit(ctx, alice, assetA, big.NewInt(101)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if _, err := h.engine.Deposit(ctx, alice, assetA, big.NewInt(100)); err != nil {
		t.Fatalf("deposit at capacity: %v", err)
	}
	if err := h.engine.SetReserveActive(ctx, assetA, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := h.engine.Deposit(ctx, alice, assetA, big.NewInt(1)); !errors.Is(err, ErrReserveInactive) {
		t.Fatalf("expected ErrReserveInactive, got %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, alice, assetA, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw from inactive reserve should succeed: %v", err)
	}
}

func TestDepositInsufficientFundsLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.addReserve(t, assetA, 7_500, 8_000, 0, 1)
	h.fund(t, assetA, alice, 10)
	commits := h.state.commits

	_, err := h.engine.Deposit(context.Background(), alice, assetA, big.NewInt(11))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if Classify(err) != CategoryTransfer {
		t.Fatalf("unexpected category %s", Classify(err))
	}
	if h.state.commits != commits {
		t.Fatalf("failed deposit must not commit")
	}
	if total := h.reserve(t, assetA).TotalDeposited; total.Sign() != 0 {
		t.Fatalf("reserve total changed: %s", total)
	}
	if len(h.events.Events()) != 0 {
		t.Fatalf("no events expected for failed deposit")
	}
}

func TestMaxAssetsPerUser(t *testing.T) {
	h := newHarness(t)
	h.engine.params.MaxAssetsPerUser = 2
	h.addReserve(t, assetA, 7_500, 8_000, 0, 1)
	h.addReserve(t, assetB, 7_500, 8_000, 0, 1)
	h.addReserve(t, assetC, 7_500, 8_000, 0, 1)
	h.deposit(t, alice, assetA, 10)
	h.deposit(t, alice, assetB, 10)
	h.deposit(t, alice, assetA, 10)

	h.fund(t, assetC, alice, 10)
	if _, err := h.engine.Deposit(context.Background(), alice, assetC, big.NewInt(10)); !errors.Is(err, ErrTooManyAssets) {
		t.Fatalf("expected ErrTooManyAssets, got %v", err)
	}
}

func TestWithdrawRespectsHealthFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addReserve(t, assetA, 7_500, 8_000, 0, 1)
	h.addReserve(t, assetB, 7_500, 8_000, 0, 1)
	h.deposit(t, bob, assetB, 1_000)
	h.deposit(t, alice, assetA, 200)
	if _, err := h.engine.Borrow(ctx, alice, assetB, big.NewInt(150)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if _, err := h.engine.Withdraw(ctx, alice, assetA, big.NewInt(20)); !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected ErrHealthCheckFailed, got %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, alice, assetA, big.NewInt(12)); err != nil {
		t.Fatalf("withdraw to exactly the threshold should succeed: %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, alice, assetA, big.NewInt(1_000)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := h.ledger.BalanceOf(assetA, alice); got.Int64() != 12 {
		t.Fatalf("unexpected alice balance %s", got)
	}
}

func TestWithdrawLimitedByLiquidity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addReserve(t, assetA, 7_500, 8_000, 0, 1)
	h.addReserve(t, assetB, 7_500, 8_000, 0, 1)
	h.deposit(t, bob, assetB, 100)
	h.deposit(t, alice, assetA, 1_000)
	if _, err := h.engine.Borrow(ctx, alice, assetB, big.NewInt(90)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, bob, assetB, big.NewInt(11)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := h.engine.Borrow(ctx, alice, assetB, big.NewInt(11)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected borrow to hit liquidity, got %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, bob, assetB, big.NewInt(10)); err != nil {
		t.Fatalf("withdraw idle liquidity: %v", err)
	}
}

func TestSetCollateralToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addReserve(t, assetA, 7_500, 8_000, 0, 1)
	h.addReserve(t, assetB, 7_500, 8_000, 0, 1)
	h.addReserve(t, assetC, 0, 0, 0, 1)
	h.deposit(t, bob, assetB, 1_000)
	h.deposit(t, alice, assetA, 200)
	h.deposit(t, alice, assetC, 50)

	if err := h.engine.SetCollateral(ctx, alice, assetC, true); !errors.Is(err, ErrNotCollateralAsset) {
		t.Fatalf("expected ErrNotCollateralAsset, got %v", err)
	}
	if err := h.engine.SetCollateral(ctx, alice, assetA, false); err != nil {
		t.Fatalf("disable without debt: %v", err)
	}
	if _, err := h.engine.Borrow(ctx, alice, assetB, big.NewInt(1)); !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected borrow without collateral to fail, got %v", err)
	}
	if err := h.engine.SetCollateral(ctx, alice, assetA, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := h.engine.Borrow(ctx, alice, assetB, big.NewInt(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := h.engine.SetCollateral(ctx, alice, assetA, false); !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected disabling backing collateral to fail, got %v", err)
	}
	if err := h.engine.SetCollateral(ctx, alice, assetB, true); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance for asset without deposit, got %v", err)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addReserve(t, assetA, 7_500, 8_000, 0, 1)
	h.addReserve(t, assetB, 7_500, 8_000, 0, 1)
	h.deposit(t, bob, assetB, 1_000)
	h.deposit(t, alice, assetA, 200)
	if _, err := h.engine.Borrow(ctx, alice, assetB, big.NewInt(50)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := h.engine.SetPaused(ctx, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	h.fund(t, assetA, alice, 10)

	if _, err := h.engine.Deposit(ctx, alice, assetA, big.NewInt(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected deposit paused, got %v", err)
	}
	if _, err := h.engine.Borrow(ctx, alice, assetB, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected borrow paused, got %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, alice, assetA, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected withdraw paused, got %v", err)
	}
	if _, err := h.engine.Repay(ctx, alice, assetB, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected repay paused, got %v", err)
	}
	if Classify(nativecommon.ErrModulePaused) != CategoryPaused {
		t.Fatalf("unexpected category for pause")
	}

	if err := h.engine.SetEmergencyWithdraw(ctx, assetA, true); err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if err := h.engine.SetEmergencyWithdraw(ctx, assetB, true); err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if _, err := h.engine.Repay(ctx, alice, assetB, big.NewInt(50)); err != nil {
		t.Fatalf("repay during emergency: %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, alice, assetA, big.NewInt(200)); err != nil {
		t.Fatalf("withdraw during emergency: %v", err)
	}

	controls, err := h.engine.Controls(ctx)
	if err != nil || !controls.Paused {
		t.Fatalf("expected paused controls, got %+v %v", controls, err)
	}
	if err := h.engine.SetPaused(ctx, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := h.engine.Deposit(ctx, alice, assetA, big.NewInt(10)); err != nil {
		t.Fatalf("deposit after resume: %v", err)
	}
}

func TestExternalPauseView(t *testing.T) {
	h := newHarness(t)
	h.addReserve(t, assetA, 7_500, 8_000, 0, 1)
	pauses := nativecommon.NewPauseSet("lending")
	h.engine.SetPauses(pauses)
	h.fund(t, assetA, alice, 10)

	if _, err := h.engine.Deposit(context.Background(), alice, assetA, big.NewInt(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if got := h.ledger.BalanceOf(assetA, alice); got.Int64() != 10 {
		t.Fatalf("expected balance to remain 10, got %s", got)
	}
	pauses.Set("lending", false)
	if _, err := h.engine.Deposit(context.Background(), alice, assetA, big.NewInt(10)); err != nil {
		t.Fatalf("deposit after resume: %v", err)
	}
}
