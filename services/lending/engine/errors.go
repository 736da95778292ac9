package engine

import (
	"errors"
	"fmt"

	"crossledger/native/lending"
)

var (
	ErrNotFound               = errors.New("lending: not found")
	ErrInvalidArgument        = errors.New("lending: invalid argument")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral or liquidity")
	ErrPaused                 = errors.New("lending: operation paused")
	ErrPriceUnavailable       = errors.New("lending: price unavailable")
	ErrTransfer               = errors.New("lending: token transfer failed")
	ErrConflict               = errors.New("lending: concurrent operation rejected")
	ErrUnauthorized           = errors.New("lending: unauthorized")
	ErrInternal               = errors.New("lending: internal error")
)

// translateModuleError maps an engine error onto the service sentinels while
// keeping the engine's message for the caller.
func translateModuleError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, lending.ErrUnknownReserve) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var sentinel error
	switch lending.Classify(err) {
	case lending.CategoryValidation:
		sentinel = ErrInvalidArgument
	case lending.CategoryInsolvency:
		sentinel = ErrInsufficientCollateral
	case lending.CategoryOracle:
		sentinel = ErrPriceUnavailable
	case lending.CategoryTransfer:
		sentinel = ErrTransfer
	case lending.CategoryConcurrency:
		sentinel = ErrConflict
	case lending.CategoryPaused:
		sentinel = ErrPaused
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
