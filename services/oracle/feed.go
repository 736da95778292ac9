package oracle

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidPrice is returned when a negative or missing price is submitted.
var ErrInvalidPrice = errors.New("oracle: price must be non-negative")

// Quote is one administratively set price observation.
type Quote struct {
	Asset      common.Address
	Price      *big.Int
	ObservedAt time.Time
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{Asset: q.Asset, ObservedAt: q.ObservedAt}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Feed holds the latest price per asset. Quotes older than MaxAge read as
// zero, which lending treats as unpriced.
type Feed struct {
	mu     sync.RWMutex
	quotes map[common.Address]Quote
	maxAge time.Duration
	clock  func() time.Time
}

// NewFeed creates a feed. A zero maxAge disables staleness checks.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{
		quotes: make(map[common.Address]Quote),
		maxAge: maxAge,
		clock:  time.Now,
	}
}

// SetClock overrides the wall clock used for observation timestamps.
func (f *Feed) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	f.mu.Lock()
	f.clock = clock
	f.mu.Unlock()
}

// SetPrice records a new observation for asset. A zero price marks the asset
// unpriced.
func (f *Feed) SetPrice(asset common.Address, price *big.Int) error {
	if price == nil || price.Sign() < 0 {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[asset] = Quote{Asset: asset, Price: new(big.Int).Set(price), ObservedAt: f.clock()}
	return nil
}

// AssetPrice returns the current price or zero when missing or stale.
func (f *Feed) AssetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[asset]
	if !ok || quote.Price == nil {
		return big.NewInt(0), nil
	}
	if f.maxAge > 0 && f.clock().Sub(quote.ObservedAt) > f.maxAge {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(quote.Price), nil
}

// Quotes returns every recorded observation sorted by asset.
func (f *Feed) Quotes() []Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Quote, 0, len(f.quotes))
	for _, q := range f.quotes {
		out = append(out, q.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Cmp(out[j].Asset) < 0 })
	return out
}

// Stale reports whether the asset's latest quote is missing or older than
// MaxAge.
func (f *Feed) Stale(asset common.Address) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[asset]
	if !ok {
		return true
	}
	return f.maxAge > 0 && f.clock().Sub(quote.ObservedAt) > f.maxAge
}
