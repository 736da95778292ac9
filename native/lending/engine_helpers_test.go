package lending

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crossledger/core/events"
	"crossledger/native/bank"
)

type mockEngineState struct {
	reserves   map[common.Address]*Reserve
	index      []common.Address
	positions  map[positionKey]*Position
	userAssets map[common.Address][]common.Address
	controls   *Controls
	failCommit error
	commits    int
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		reserves:   make(map[common.Address]*Reserve),
		positions:  make(map[positionKey]*Position),
		userAssets: make(map[common.Address][]common.Address),
	}
}

func (m *mockEngineState) GetReserve(asset common.Address) (*Reserve, error) {
	return m.reserves[asset].Clone(), nil
}

func (m *mockEngineState) PutReserve(r *Reserve) error {
	m.reserves[r.Asset] = r.Clone()
	return nil
}

func (m *mockEngineState) ListReserves() ([]common.Address, error) {
	return append([]common.Address(nil), m.index...), nil
}

func (m *mockEngineState) PutReserveIndex(assets []common.Address) error {
	m.index = append([]common.Address(nil), assets...)
	return nil
}

func (m *mockEngineState) GetPosition(asset, user common.Address) (*Position, error) {
	return m.positions[positionKey{asset: asset, user: user}].Clone(), nil
}

func (m *mockEngineState) PutPosition(p *Position) error {
	m.positions[positionKey{asset: p.Asset, user: p.User}] = p.Clone()
	return nil
}

func (m *mockEngineState) GetUserAssets(user common.Address) ([]common.Address, error) {
	return append([]common.Address(nil), m.userAssets[user]...), nil
}

func (m *mockEngineState) PutUserAssets(user common.Address, assets []common.Address) error {
	m.userAssets[user] = append([]common.Address(nil), assets...)
	return nil
}

func (m *mockEngineState) GetControls() (*Controls, error) {
	if m.controls == nil {
		return nil, nil
	}
	return m.controls.Clone(), nil
}

func (m *mockEngineState) PutControls(c *Controls) error {
	m.controls = c.Clone()
	return nil
}

func (m *mockEngineState) ApplyChanges(cs *ChangeSet) error {
	if m.failCommit != nil {
		return m.failCommit
	}
	m.commits++
	return ApplySequential(m, cs)
}

type stubPrices struct {
	mu     sync.Mutex
	prices map[common.Address]*big.Int
	errs   map[common.Address]error
	hook   func(ctx context.Context, asset common.Address)
}

func newStubPrices() *stubPrices {
	return &stubPrices{prices: make(map[common.Address]*big.Int), errs: make(map[common.Address]error)}
}

func (s *stubPrices) set(asset common.Address, price int64) {
	s.mu.Lock()
	s.prices[asset] = big.NewInt(price)
	s.mu.Unlock()
}

func (s *stubPrices) AssetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	if s.hook != nil {
		s.hook(ctx, asset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[asset]; err != nil {
		return nil, err
	}
	if p, ok := s.prices[asset]; ok {
		return new(big.Int).Set(p), nil
	}
	return big.NewInt(0), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[0] = 0x10
	addr[19] = suffix
	return addr
}

var (
	moduleAddr = makeAddress(0xEE)
	assetA     = makeAddress(0xA1)
	assetB     = makeAddress(0xB1)
	assetC     = makeAddress(0xC1)
	alice      = makeAddress(0x01)
	bob        = makeAddress(0x02)
	carol      = makeAddress(0x03)
)

type harness struct {
	engine *Engine
	state  *mockEngineState
	ledger *bank.Ledger
	prices *stubPrices
	events *events.Recorder
	clock  *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:  newMockEngineState(),
		ledger: bank.NewLedger(),
		prices: newStubPrices(),
		events: &events.Recorder{},
		clock:  &testClock{now: time.Unix(1_700_000_000, 0)},
	}
	h.engine = NewEngine(moduleAddr, DefaultParams())
	h.engine.SetState(h.state)
	h.engine.SetLedger(h.ledger)
	h.engine.SetPriceSource(h.prices)
	h.engine.SetEmitter(h.events)
	h.engine.SetClock(h.clock.Now)
	return h
}

func (h *harness) addReserve(t *testing.T, asset common.Address, ltv, lt, rf uint64, price int64) {
	t.Helper()
	if err := h.engine.AddReserve(context.Background(), asset, ReserveParams{LoanToValue: ltv, LiquidationThreshold: lt, ReserveFactor: rf, Decimals: 18}); err != nil {
		t.Fatalf("add reserve: %v", err)
	}
	h.prices.set(asset, price)
}

func (h *harness) fund(t *testing.T, asset, account common.Address, amount int64) {
	t.Helper()
	if err := h.ledger.Mint(asset, account, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (h *harness) deposit(t *testing.T, user, asset common.Address, amount int64) {
	t.Helper()
	h.fund(t, asset, user, amount)
	if _, err := h.engine.Deposit(context.Background(), user, asset, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (h *harness) position(t *testing.T, asset, user common.Address) *Position {
	t.Helper()
	p := h.state.positions[positionKey{asset: asset, user: user}]
	if p == nil {
		return &Position{Asset: asset, User: user, Deposited: zero(), Borrowed: zero()}
	}
	return p
}

func (h *harness) reserve(t *testing.T, asset common.Address) *Reserve {
	t.Helper()
	r := h.state.reserves[asset]
	if r == nil {
		t.Fatalf("reserve %s missing", asset.Hex())
	}
	return r
}

var errInjected = errors.New("injected failure")
