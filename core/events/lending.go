package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeLendingDeposit       = "lending.deposit"
	TypeLendingWithdraw      = "lending.withdraw"
	TypeLendingBorrow        = "lending.borrow"
	TypeLendingRepay         = "lending.repay"
	TypeLendingCollateral    = "lending.collateral"
	TypeLendingLiquidation   = "lending.liquidation"
	TypeLendingFeesWithdrawn = "lending.fees_withdrawn"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

func timestampString(ts uint64) string {
	return strconv.FormatUint(ts, 10)
}

// LendingDeposit is emitted after a deposit commits.
type LendingDeposit struct {
	User       common.Address
	Asset      common.Address
	Amount     *big.Int
	Collateral bool
	Timestamp  uint64
}

func (LendingDeposit) EventType() string { return TypeLendingDeposit }

func (e LendingDeposit) Record() *Record {
	return &Record{
		Type: TypeLendingDeposit,
		Attributes: map[string]string{
			"user":       addressString(e.User),
			"asset":      addressString(e.Asset),
			"amount":     amountString(e.Amount),
			"collateral": strconv.FormatBool(e.Collateral),
			"timestamp":  timestampString(e.Timestamp),
		},
	}
}

// LendingWithdraw is emitted after a withdrawal commits.
type LendingWithdraw struct {
	User      common.Address
	Asset     common.Address
	Amount    *big.Int
	Timestamp uint64
}

func (LendingWithdraw) EventType() string { return TypeLendingWithdraw }

func (e LendingWithdraw) Record() *Record {
	return &Record{
		Type: TypeLendingWithdraw,
		Attributes: map[string]string{
			"user":      addressString(e.User),
			"asset":     addressString(e.Asset),
			"amount":    amountString(e.Amount),
			"timestamp": timestampString(e.Timestamp),
		},
	}
}

// LendingBorrow is emitted after a borrow commits. HealthFactor is the
// post-borrow value.
type LendingBorrow struct {
	User         common.Address
	Asset        common.Address
	Amount       *big.Int
	HealthFactor *big.Int
	Timestamp    uint64
}

func (LendingBorrow) EventType() string { return TypeLendingBorrow }

func (e LendingBorrow) Record() *Record {
	return &Record{
		Type: TypeLendingBorrow,
		Attributes: map[string]string{
			"user":         addressString(e.User),
			"asset":        addressString(e.Asset),
			"amount":       amountString(e.Amount),
			"healthFactor": amountString(e.HealthFactor),
			"timestamp":    timestampString(e.Timestamp),
		},
	}
}

// LendingRepay is emitted after a repayment commits. Payer differs from User
// for repayments made on behalf of another account.
type LendingRepay struct {
	Payer     common.Address
	User      common.Address
	Asset     common.Address
	Amount    *big.Int
	Timestamp uint64
}

func (LendingRepay) EventType() string { return TypeLendingRepay }

func (e LendingRepay) Record() *Record {
	return &Record{
		Type: TypeLendingRepay,
		Attributes: map[string]string{
			"payer":     addressString(e.Payer),
			"user":      addressString(e.User),
			"asset":     addressString(e.Asset),
			"amount":    amountString(e.Amount),
			"timestamp": timestampString(e.Timestamp),
		},
	}
}

// LendingCollateral is emitted when a user toggles an asset's collateral flag.
type LendingCollateral struct {
	User      common.Address
	Asset     common.Address
	Enabled   bool
	Timestamp uint64
}

func (LendingCollateral) EventType() string { return TypeLendingCollateral }

func (e LendingCollateral) Record() *Record {
	return &Record{
		Type: TypeLendingCollateral,
		Attributes: map[string]string{
			"user":      addressString(e.User),
			"asset":     addressString(e.Asset),
			"enabled":   strconv.FormatBool(e.Enabled),
			"timestamp": timestampString(e.Timestamp),
		},
	}
}

// LendingLiquidation is emitted after a liquidation settles.
type LendingLiquidation struct {
	Liquidator       common.Address
	User             common.Address
	DebtAsset        common.Address
	CollateralAsset  common.Address
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	HealthFactor     *big.Int
	Timestamp        uint64
}

func (LendingLiquidation) EventType() string { return TypeLendingLiquidation }

func (e LendingLiquidation) Record() *Record {
	return &Record{
		Type: TypeLendingLiquidation,
		Attributes: map[string]string{
			"liquidator":       addressString(e.Liquidator),
			"user":             addressString(e.User),
			"debtAsset":        addressString(e.DebtAsset),
			"collateralAsset":  addressString(e.CollateralAsset),
			"debtRepaid":       amountString(e.DebtRepaid),
			"collateralSeized": amountString(e.CollateralSeized),
			"healthFactor":     amountString(e.HealthFactor),
			"timestamp":        timestampString(e.Timestamp),
		},
	}
}

// LendingFeesWithdrawn is emitted when collected reserve fees are paid out.
type LendingFeesWithdrawn struct {
	Asset     common.Address
	Recipient common.Address
	Amount    *big.Int
	Timestamp uint64
}

func (LendingFeesWithdrawn) EventType() string { return TypeLendingFeesWithdrawn }

func (e LendingFeesWithdrawn) Record() *Record {
	return &Record{
		Type: TypeLendingFeesWithdrawn,
		Attributes: map[string]string{
			"asset":     addressString(e.Asset),
			"recipient": addressString(e.Recipient),
			"amount":    amountString(e.Amount),
			"timestamp": timestampString(e.Timestamp),
		},
	}
}
