package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount     = errors.New("bank: amount must be positive")
	ErrAmountTooLarge    = errors.New("bank: amount exceeds 256 bits")
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrBalanceOverflow   = errors.New("bank: balance overflow")
)

type balanceKey struct {
	asset   common.Address
	account common.Address
}

// Ledger is an in-process multi-asset token ledger with 256-bit balances.
type Ledger struct {
	mu       sync.Mutex
	balances map[balanceKey]*uint256.Int
	failNext error
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[balanceKey]*uint256.Int)}
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrAmountTooLarge
	}
	return value, nil
}

func (l *Ledger) balance(key balanceKey) *uint256.Int {
	if bal, ok := l.balances[key]; ok {
		return bal
	}
	return new(uint256.Int)
}

// Mint credits amount of asset to account.
func (l *Ledger) Mint(asset, account common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{asset: asset, account: account}
	next, overflow := new(uint256.Int).AddOverflow(l.balance(key), value)
	if overflow {
		return ErrBalanceOverflow
	}
	l.balances[key] = next
	return nil
}

// Transfer moves amount of asset between two accounts. Either both balances
// change or neither does.
func (l *Ledger) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return err
	}
	fromKey := balanceKey{asset: asset, account: from}
	toKey := balanceKey{asset: asset, account: to}
	fromBal := l.balance(fromKey)
	if fromBal.Lt(value) {
		return fmt.Errorf("%w: %s holds %s of %s", ErrInsufficientFunds, from.Hex(), fromBal.Dec(), asset.Hex())
	}
	if from == to {
		return nil
	}
	toBal, overflow := new(uint256.Int).AddOverflow(l.balance(toKey), value)
	if overflow {
		return ErrBalanceOverflow
	}
	l.balances[fromKey] = new(uint256.Int).Sub(fromBal, value)
	l.balances[toKey] = toBal
	return nil
}

// BalanceOf returns the account's balance of asset.
func (l *Ledger) BalanceOf(asset, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(balanceKey{asset: asset, account: account}).ToBig()
}

// Holdings lists the account's non-zero balances keyed by asset.
func (l *Ledger) Holdings(account common.Address) map[common.Address]*big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[common.Address]*big.Int)
	for key, bal := range l.balances {
		if key.account == account && !bal.IsZero() {
			out[key.asset] = bal.ToBig()
		}
	}
	return out
}

// Assets lists every asset with at least one balance, sorted by address.
func (l *Ledger) Assets() []common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[common.Address]struct{})
	for key := range l.balances {
		seen[key.asset] = struct{}{}
	}
	out := make([]common.Address, 0, len(seen))
	for asset := range seen {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// FailNext makes the next Transfer return err without moving funds.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	l.failNext = err
	l.mu.Unlock()
}
