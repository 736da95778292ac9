package lending

import (
	"fmt"
	"math/big"
)

// InterestModel describes a two-slope borrow rate curve with a kink at the
// optimal utilisation. All values are basis points.
type InterestModel struct {
	BaseRate           uint64
	Slope1             uint64
	Slope2             uint64
	OptimalUtilization uint64
	MaxBorrowRate      uint64
}

// DefaultInterestModel returns the curve applied to reserves that do not
// configure their own.
func DefaultInterestModel() InterestModel {
	return InterestModel{
		BaseRate:           100,
		Slope1:             400,
		Slope2:             6_000,
		OptimalUtilization: 8_000,
		MaxBorrowRate:      10_000,
	}
}

// Validate ensures the curve parameters are internally consistent.
func (m InterestModel) Validate() error {
	if m.OptimalUtilization == 0 || m.OptimalUtilization > BasisPoints {
		return fmt.Errorf("%w: optimal utilization must be within (0, 10000]", ErrInvalidParameters)
	}
	if m.MaxBorrowRate != 0 && m.MaxBorrowRate < m.BaseRate {
		return fmt.Errorf("%w: max borrow rate below base rate", ErrInvalidParameters)
	}
	return nil
}

// Utilization returns totalBorrowed * 10000 / totalDeposited, clamped to
// 10000. Zero deposits report zero utilisation.
func (m InterestModel) Utilization(totalBorrowed, totalDeposited *big.Int) uint64 {
	if totalDeposited == nil || totalDeposited.Sign() <= 0 || totalBorrowed == nil || totalBorrowed.Sign() <= 0 {
		return 0
	}
	if totalBorrowed.Cmp(totalDeposited) >= 0 {
		return BasisPoints
	}
	u := new(big.Int).Mul(totalBorrowed, basisPoints)
	u.Quo(u, totalDeposited)
	return u.Uint64()
}

// BorrowRate evaluates the curve at the supplied utilisation.
func (m InterestModel) BorrowRate(utilization uint64) uint64 {
	if utilization > BasisPoints {
		utilization = BasisPoints
	}
	var rate uint64
	if utilization <= m.OptimalUtilization {
		rate = m.BaseRate + utilization*m.Slope1/BasisPoints
	} else {
		rate = m.BaseRate + m.OptimalUtilization*m.Slope1/BasisPoints +
			(utilization-m.OptimalUtilization)*m.Slope2/BasisPoints
	}
	if m.MaxBorrowRate != 0 && rate > m.MaxBorrowRate {
		rate = m.MaxBorrowRate
	}
	return rate
}

// LiquidityRate derives the depositor rate from the borrow rate after the
// reserve factor share has been removed.
func LiquidityRate(borrowRate, utilization, reserveFactor uint64) uint64 {
	if reserveFactor >= BasisPoints {
		return 0
	}
	rate := borrowRate * utilization / BasisPoints
	return rate * (BasisPoints - reserveFactor) / BasisPoints
}

// Rates returns the borrow and liquidity rates for the given reserve totals.
func (m InterestModel) Rates(totalDeposited, totalBorrowed *big.Int, reserveFactor uint64) (borrowRate, liquidityRate uint64) {
	u := m.Utilization(totalBorrowed, totalDeposited)
	borrowRate = m.BorrowRate(u)
	liquidityRate = LiquidityRate(borrowRate, u, reserveFactor)
	return borrowRate, liquidityRate
}
