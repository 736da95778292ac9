package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBorrowRateCurve(t *testing.T) {
	model := DefaultInterestModel()
	cases := []struct {
		name        string
		utilization uint64
		want        uint64
	}{
		{"empty pool", 0, 100},
		{"below kink", 4_000, 260},
		{"at kink", 8_000, 420},
		{"above kink", 9_000, 1_020},
		{"fully utilised", 10_000, 1_620},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, model.BorrowRate(tc.utilization))
		})
	}
}

func TestBorrowRateMonotonicAndCapped(t *testing.T) {
	model := InterestModel{BaseRate: 200, Slope1: 1_000, Slope2: 50_000, OptimalUtilization: 7_000, MaxBorrowRate: 9_000}
	prev := uint64(0)
	for u := uint64(0); u <= BasisPoints; u += 50 {
		rate := model.BorrowRate(u)
		require.GreaterOrEqual(t, rate, prev, "rate decreased at utilisation %d", u)
		require.LessOrEqual(t, rate, model.MaxBorrowRate)
		prev = rate
	}
	require.Equal(t, model.MaxBorrowRate, model.BorrowRate(BasisPoints))
}

func TestUtilization(t *testing.T) {
	model := DefaultInterestModel()
	require.Equal(t, uint64(0), model.Utilization(big.NewInt(10), big.NewInt(0)))
	require.Equal(t, uint64(0), model.Utilization(big.NewInt(0), big.NewInt(1000)))
	require.Equal(t, uint64(8_000), model.Utilization(big.NewInt(800), big.NewInt(1000)))
	require.Equal(t, uint64(10_000), model.Utilization(big.NewInt(1200), big.NewInt(1000)))
}

func TestLiquidityRateNeverExceedsBorrowRate(t *testing.T) {
	model := DefaultInterestModel()
	for u := uint64(0); u <= BasisPoints; u += 500 {
		for _, rf := range []uint64{0, 1_000, 5_000, 10_000} {
			borrow := model.BorrowRate(u)
			liquidity := LiquidityRate(borrow, u, rf)
			require.LessOrEqual(t, liquidity, borrow)
		}
	}
	borrow, liquidity := model.Rates(big.NewInt(1000), big.NewInt(800), 1_000)
	require.Equal(t, uint64(420), borrow)
	require.Equal(t, uint64(420*8_000/10_000*9_000/10_000), liquidity)
}

func TestInterestModelValidate(t *testing.T) {
	require.NoError(t, DefaultInterestModel().Validate())
	require.ErrorIs(t, InterestModel{OptimalUtilization: 0}.Validate(), ErrInvalidParameters)
	require.ErrorIs(t, InterestModel{OptimalUtilization: 10_001}.Validate(), ErrInvalidParameters)
	require.ErrorIs(t, InterestModel{BaseRate: 500, MaxBorrowRate: 100, OptimalUtilization: 8_000}.Validate(), ErrInvalidParameters)
}
