package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reserve captures the pooled state and risk configuration of a single asset.
type Reserve struct {
	Asset                common.Address
	TotalDeposited       *big.Int
	TotalBorrowed        *big.Int
	LiquidityRate        uint64
	BorrowRate           uint64
	LastUpdateTime       uint64
	Active               bool
	LoanToValue          uint64
	LiquidationThreshold uint64
	MaxCapacity          *big.Int
	ReserveFactor        uint64
	CollectedFees        *big.Int
	Decimals             uint64
	EmergencyWithdraw    bool
	Model                InterestModel
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalDeposited = copyInt(r.TotalDeposited)
	clone.TotalBorrowed = copyInt(r.TotalBorrowed)
	clone.MaxCapacity = copyInt(r.MaxCapacity)
	clone.CollectedFees = copyInt(r.CollectedFees)
	return &clone
}

func (r *Reserve) ensureDefaults() {
	if r.TotalDeposited == nil {
		r.TotalDeposited = zero()
	}
	if r.TotalBorrowed == nil {
		r.TotalBorrowed = zero()
	}
	if r.MaxCapacity == nil {
		r.MaxCapacity = zero()
	}
	if r.CollectedFees == nil {
		r.CollectedFees = zero()
	}
}

// Utilization reports the share of deposits currently borrowed in basis
// points.
func (r *Reserve) Utilization() uint64 {
	if r == nil {
		return 0
	}
	return r.Model.Utilization(r.TotalBorrowed, r.TotalDeposited)
}

// AvailableLiquidity returns the amount that can leave the pool without
// touching borrowed funds.
func (r *Reserve) AvailableLiquidity() *big.Int {
	if r == nil || r.TotalDeposited == nil {
		return zero()
	}
	liquidity := new(big.Int).Sub(r.TotalDeposited, r.TotalBorrowed)
	if liquidity.Sign() < 0 {
		return zero()
	}
	return liquidity
}

// Position is a single user's balance sheet inside one reserve.
type Position struct {
	Asset          common.Address
	User           common.Address
	Deposited      *big.Int
	Borrowed       *big.Int
	LastUpdateTime uint64
	IsCollateral   bool
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Deposited = copyInt(p.Deposited)
	clone.Borrowed = copyInt(p.Borrowed)
	return &clone
}

func (p *Position) ensureDefaults() {
	if p.Deposited == nil {
		p.Deposited = zero()
	}
	if p.Borrowed == nil {
		p.Borrowed = zero()
	}
}

// IsEmpty reports whether the position holds neither deposits nor debt.
func (p *Position) IsEmpty() bool {
	return p == nil || (p.Deposited.Sign() == 0 && p.Borrowed.Sign() == 0)
}

// Controls holds the protocol-wide administrative switches.
type Controls struct {
	Paused       bool
	FeeRecipient common.Address
}

// Clone returns a copy of the controls.
func (c *Controls) Clone() *Controls {
	if c == nil {
		return &Controls{}
	}
	clone := *c
	return &clone
}

// ReserveParams is the configuration supplied when registering a reserve or
// changing its risk parameters.
type ReserveParams struct {
	LoanToValue          uint64
	LiquidationThreshold uint64
	ReserveFactor        uint64
	MaxCapacity          *big.Int
	Decimals             uint64
	Model                *InterestModel
}

// RiskTier buckets a health factor for display.
type RiskTier string

const (
	RiskSafe     RiskTier = "safe"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskImminent RiskTier = "imminent"
)

// AssetExposure describes one asset line of a user snapshot.
type AssetExposure struct {
	Asset        common.Address
	Price        *big.Int
	Deposited    *big.Int
	Borrowed     *big.Int
	DepositValue *big.Int
	BorrowValue  *big.Int
	IsCollateral bool
	Priced       bool
}

// UserSnapshot is the aggregated cross-asset risk view of one user.
type UserSnapshot struct {
	User                    common.Address
	AsOf                    uint64
	TotalCollateralValue    *big.Int
	TotalBorrowValue        *big.Int
	WeightedCollateralValue *big.Int
	BorrowCapacity          *big.Int
	AvailableBorrows        *big.Int
	HealthFactor            *big.Int
	Tier                    RiskTier
	Assets                  []AssetExposure
	Unpriced                []common.Address
}

// HasDebt reports whether any borrow value contributed to the snapshot.
func (s *UserSnapshot) HasDebt() bool {
	return s != nil && s.TotalBorrowValue.Sign() > 0
}

// PriceSimulation compares a user's health before and after a hypothetical
// price move of one asset.
type PriceSimulation struct {
	Asset        common.Address
	ChangeBps    int64
	Before       *big.Int
	After        *big.Int
	TierBefore   RiskTier
	TierAfter    RiskTier
	Liquidatable bool
}

// LiquidationResult reports the settled amounts of a liquidation.
type LiquidationResult struct {
	DebtRepaid         *big.Int
	CollateralSeized   *big.Int
	DebtValue          *big.Int
	BonusValue         *big.Int
	HealthFactorBefore *big.Int
	HealthFactorAfter  *big.Int
}

// ReserveView is a reserve together with its derived figures.
type ReserveView struct {
	Reserve            *Reserve
	Utilization        uint64
	AvailableLiquidity *big.Int
}
