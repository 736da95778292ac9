package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceSource quotes asset prices in a common value unit. A zero or nil price
// means the asset is currently unpriced.
type PriceSource interface {
	AssetPrice(ctx context.Context, asset common.Address) (*big.Int, error)
}

// TokenLedger moves asset balances between accounts.
type TokenLedger interface {
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
}

type transferStep struct {
	asset  common.Address
	from   common.Address
	to     common.Address
	amount *big.Int
}

// transferLog executes external transfers and remembers them so that a
// failure later in the action can be unwound in reverse order.
type transferLog struct {
	ledger  TokenLedger
	callout func() func()
	steps   []transferStep
}

func (l *transferLog) move(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	if l.callout != nil {
		defer l.callout()()
	}
	return l.ledger.Transfer(ctx, asset, from, to, amount)
}

func (l *transferLog) transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	if l.ledger == nil {
		return ErrLedgerNotConfigured
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.move(ctx, asset, from, to, amount); err != nil {
		return fmt.Errorf("%w: %s %s -> %s: %w", ErrTransferFailed, asset.Hex(), from.Hex(), to.Hex(), err)
	}
	l.steps = append(l.steps, transferStep{asset: asset, from: from, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

// unwind reverses completed transfers newest first.
func (l *transferLog) unwind(ctx context.Context) error {
	var errs []error
	for i := len(l.steps) - 1; i >= 0; i-- {
		step := l.steps[i]
		if err := l.move(ctx, step.asset, step.to, step.from, step.amount); err != nil {
			errs = append(errs, fmt.Errorf("unwind %s %s -> %s: %w", step.asset.Hex(), step.to.Hex(), step.from.Hex(), err))
		}
	}
	l.steps = nil
	return errors.Join(errs...)
}
