package lending

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestPercentMul(t *testing.T) {
	cases := []struct {
		value string
		bps   uint64
		want  string
	}{
		{"10000", 7500, "7500"},
		{"999", 5000, "499"},
		{"1", 9999, "0"},
		{"0", 5000, "0"},
		{"123456789", 0, "0"},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", 10000, "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
	}
	for _, tc := range cases {
		value, _ := new(big.Int).SetString(tc.value, 10)
		got := PercentMul(value, tc.bps)
		if got.String() != tc.want {
			t.Fatalf("PercentMul(%s, %d) = %s, want %s", tc.value, tc.bps, got, tc.want)
		}
	}
}

func TestPercentMulNil(t *testing.T) {
	if got := PercentMul(nil, 5000); got.Sign() != 0 {
		t.Fatalf("expected zero for nil value, got %s", got)
	}
}

func TestMaxHealthFactorIsUint256Max(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if MaxHealthFactor.Cmp(max.ToBig()) != 0 {
		t.Fatalf("unexpected max health factor %s", MaxHealthFactor)
	}
	if MaxHealthFactor.BitLen() != 256 {
		t.Fatalf("expected 256-bit sentinel, got %d bits", MaxHealthFactor.BitLen())
	}
}

func TestCheckedSubRejectsUnderflow(t *testing.T) {
	if _, err := checkedSub(big.NewInt(1), big.NewInt(2)); err != ErrAccountingUnderflow {
		t.Fatalf("expected underflow, got %v", err)
	}
	out, err := checkedSub(big.NewInt(5), big.NewInt(2))
	if err != nil || out.Int64() != 3 {
		t.Fatalf("unexpected result %v %v", out, err)
	}
}
