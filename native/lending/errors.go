package lending

import (
	"errors"
	"fmt"

	nativecommon "crossledger/native/common"
)

var (
	ErrNilState              = errors.New("lending engine: state not configured")
	ErrInvalidAmount         = errors.New("lending engine: amount must be positive")
	ErrInvalidAddress        = errors.New("lending engine: address must be non-zero")
	ErrInvalidParameters     = errors.New("lending engine: invalid reserve parameters")
	ErrUnknownReserve        = errors.New("lending engine: reserve not found")
	ErrReserveExists         = errors.New("lending engine: reserve already registered")
	ErrReserveInactive       = errors.New("lending engine: reserve inactive")
	ErrCapacityExceeded      = errors.New("lending engine: reserve capacity exceeded")
	ErrTooManyAssets         = errors.New("lending engine: per-user asset limit reached")
	ErrInsufficientBalance   = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	ErrHealthCheckFailed     = errors.New("lending engine: health factor below liquidation threshold")
	ErrNoDebtToRepay         = errors.New("lending engine: no outstanding debt to repay")
	ErrNotLiquidatable       = errors.New("lending engine: borrower not eligible for liquidation")
	ErrNoCollateral          = errors.New("lending engine: borrower has no collateral in asset")
	ErrSelfLiquidation       = errors.New("lending engine: liquidator cannot liquidate own position")
	ErrSameAsset             = errors.New("lending engine: debt and collateral asset must differ")
	ErrLiquidationTooSmall   = errors.New("lending engine: closable debt rounds to zero")
	ErrNotCollateralAsset    = errors.New("lending engine: asset cannot be used as collateral")
	ErrPriceUnavailable      = errors.New("lending engine: asset price unavailable")
	ErrPriceSource           = errors.New("lending engine: price source not configured")
	ErrLedgerNotConfigured   = errors.New("lending engine: token ledger not configured")
	ErrTransferFailed        = errors.New("lending engine: token transfer failed")
	ErrFeeRecipient          = errors.New("lending engine: fee recipient not configured")
	ErrAccountingUnderflow   = errors.New("lending engine: reserve accounting underflow")
	ErrReentrant             = errors.New("lending engine: re-entrant call rejected")
	// ErrEngineBusy is returned to a caller arriving while another call waits
	// on a collaborator. It wraps ErrReentrant; independent callers may retry.
	ErrEngineBusy = fmt.Errorf("%w: engine waiting on external call", ErrReentrant)
)

// Category groups engine errors by how callers should react to them.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryValidation
	CategoryInsolvency
	CategoryOracle
	CategoryTransfer
	CategoryConcurrency
	CategoryPaused
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryInsolvency:
		return "insolvency"
	case CategoryOracle:
		return "oracle"
	case CategoryTransfer:
		return "transfer"
	case CategoryConcurrency:
		return "concurrency"
	case CategoryPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by the engine to its category. Errors that
// did not originate from the engine report CategoryUnknown.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrReentrant):
		return CategoryConcurrency
	case errors.Is(err, nativecommon.ErrModulePaused):
		return CategoryPaused
	case errors.Is(err, ErrTransferFailed), errors.Is(err, ErrLedgerNotConfigured):
		return CategoryTransfer
	case errors.Is(err, ErrPriceUnavailable), errors.Is(err, ErrPriceSource):
		return CategoryOracle
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrHealthCheckFailed),
		errors.Is(err, ErrNoDebtToRepay),
		errors.Is(err, ErrNotLiquidatable),
		errors.Is(err, ErrNoCollateral),
		errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ErrAccountingUnderflow):
		return CategoryInsolvency
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrInvalidParameters),
		errors.Is(err, ErrUnknownReserve),
		errors.Is(err, ErrReserveExists),
		errors.Is(err, ErrReserveInactive),
		errors.Is(err, ErrTooManyAssets),
		errors.Is(err, ErrSelfLiquidation),
		errors.Is(err, ErrSameAsset),
		errors.Is(err, ErrLiquidationTooSmall),
		errors.Is(err, ErrNotCollateralAsset),
		errors.Is(err, ErrFeeRecipient):
		return CategoryValidation
	default:
		return CategoryUnknown
	}
}
