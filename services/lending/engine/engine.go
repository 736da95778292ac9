package engine

import (
	"context"
)

// Engine describes the operations required by the lending HTTP surface.
// Addresses are hex strings and amounts are base-10 integer strings.
type Engine interface {
	Deposit(ctx context.Context, user, asset, amount string) (Position, error)
	Withdraw(ctx context.Context, user, asset, amount string) (Position, error)
	Borrow(ctx context.Context, user, asset, amount string) (Position, error)
	Repay(ctx context.Context, payer, user, asset, amount string) (string, error)
	SetCollateral(ctx context.Context, user, asset string, enabled bool) (Position, error)
	Liquidate(ctx context.Context, liquidator, user, debtAsset, collateralAsset, amount string) (Liquidation, error)

	GetReserve(ctx context.Context, asset string) (Reserve, error)
	ListReserves(ctx context.Context) ([]Reserve, error)
	GetPositions(ctx context.Context, user string) ([]Position, error)
	GetHealth(ctx context.Context, user string) (Health, error)
	Simulate(ctx context.Context, user, asset string, changeBps int64) (Simulation, error)

	SetPrice(ctx context.Context, asset, price string) error
	SetReserveActive(ctx context.Context, asset string, active bool) error
	SetEmergencyWithdraw(ctx context.Context, asset string, enabled bool) error
	SetPaused(ctx context.Context, paused bool) error
	GetControls(ctx context.Context) (Controls, error)
	WithdrawFees(ctx context.Context, asset, amount string) error
}

// Reserve is the JSON view of a reserve and its derived figures.
type Reserve struct {
	Asset                string `json:"asset"`
	Active               bool   `json:"active"`
	EmergencyWithdraw    bool   `json:"emergencyWithdraw"`
	Decimals             uint64 `json:"decimals"`
	TotalDeposited       string `json:"totalDeposited"`
	TotalBorrowed        string `json:"totalBorrowed"`
	AvailableLiquidity   string `json:"availableLiquidity"`
	CollectedFees        string `json:"collectedFees"`
	MaxCapacity          string `json:"maxCapacity"`
	UtilizationBps       uint64 `json:"utilizationBps"`
	BorrowRateBps        uint64 `json:"borrowRateBps"`
	LiquidityRateBps     uint64 `json:"liquidityRateBps"`
	LoanToValueBps       uint64 `json:"loanToValueBps"`
	LiquidationThreshold uint64 `json:"liquidationThresholdBps"`
	ReserveFactorBps     uint64 `json:"reserveFactorBps"`
	LastUpdateTime       uint64 `json:"lastUpdateTime"`
}

// Position is one user's balances in one reserve.
type Position struct {
	Asset          string `json:"asset"`
	User           string `json:"user"`
	Deposited      string `json:"deposited"`
	Borrowed       string `json:"borrowed"`
	IsCollateral   bool   `json:"isCollateral"`
	LastUpdateTime uint64 `json:"lastUpdateTime"`
}

// AssetExposure is one asset line of a health report.
type AssetExposure struct {
	Asset        string `json:"asset"`
	Price        string `json:"price,omitempty"`
	Deposited    string `json:"deposited"`
	Borrowed     string `json:"borrowed"`
	DepositValue string `json:"depositValue"`
	BorrowValue  string `json:"borrowValue"`
	IsCollateral bool   `json:"isCollateral"`
	Priced       bool   `json:"priced"`
}

// Health is the cross-asset risk view of a user. HealthFactor is scaled by
// 1e18; HealthFactorDecimal renders it as a decimal ratio.
type Health struct {
	User                    string          `json:"user"`
	AsOf                    uint64          `json:"asOf"`
	TotalCollateralValue    string          `json:"totalCollateralValue"`
	TotalBorrowValue        string          `json:"totalBorrowValue"`
	WeightedCollateralValue string          `json:"weightedCollateralValue"`
	BorrowCapacity          string          `json:"borrowCapacity"`
	AvailableBorrows        string          `json:"availableBorrows"`
	HealthFactor            string          `json:"healthFactor"`
	HealthFactorDecimal     string          `json:"healthFactorDecimal"`
	Tier                    string          `json:"tier"`
	Assets                  []AssetExposure `json:"assets"`
	Unpriced                []string        `json:"unpriced,omitempty"`
}

// Simulation reports the effect of a hypothetical price move.
type Simulation struct {
	Asset        string `json:"asset"`
	ChangeBps    int64  `json:"changeBps"`
	Before       string `json:"healthFactorBefore"`
	After        string `json:"healthFactorAfter"`
	TierBefore   string `json:"tierBefore"`
	TierAfter    string `json:"tierAfter"`
	Liquidatable bool   `json:"liquidatable"`
}

// Liquidation reports the settled amounts of a liquidation.
type Liquidation struct {
	DebtRepaid         string `json:"debtRepaid"`
	CollateralSeized   string `json:"collateralSeized"`
	DebtValue          string `json:"debtValue"`
	BonusValue         string `json:"bonusValue"`
	HealthFactorBefore string `json:"healthFactorBefore"`
	HealthFactorAfter  string `json:"healthFactorAfter"`
}

// Controls mirrors the engine's administrative switches.
type Controls struct {
	Paused       bool   `json:"paused"`
	FeeRecipient string `json:"feeRecipient,omitempty"`
}
