package lending

import (
	"math/big"

	"github.com/holiman/uint256"
)

// BasisPoints is the fixed-point denominator for rates and risk parameters.
const BasisPoints uint64 = 10_000

// SecondsPerYear is the accrual year length.
const SecondsPerYear uint64 = 31_536_000

var (
	basisPoints    = new(big.Int).SetUint64(BasisPoints)
	secondsPerYear = new(big.Int).SetUint64(SecondsPerYear)

	// HealthFactorOne is the liquidation threshold for the health factor (1e18).
	HealthFactorOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// MaxHealthFactor is reported for positions without any debt.
	MaxHealthFactor = new(uint256.Int).SetAllOne().ToBig()
)

// PercentMul returns value * bps / 10000, truncated toward zero.
func PercentMul(value *big.Int, bps uint64) *big.Int {
	if value == nil || value.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(value, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

func zero() *big.Int { return big.NewInt(0) }

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// checkedSub returns a-b or ErrAccountingUnderflow when b exceeds a.
func checkedSub(a, b *big.Int) (*big.Int, error) {
	if a.Cmp(b) < 0 {
		return nil, ErrAccountingUnderflow
	}
	return new(big.Int).Sub(a, b), nil
}

func isPositive(v *big.Int) bool { return v != nil && v.Sign() > 0 }
