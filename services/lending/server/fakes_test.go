package server

import (
	"context"
	"sync"

	"crossledger/core/events"
	"crossledger/services/lending/engine"
)

type fakeEngine struct {
	depositFn      func(ctx context.Context, user, asset, amount string) (engine.Position, error)
	withdrawFn     func(ctx context.Context, user, asset, amount string) (engine.Position, error)
	borrowFn       func(ctx context.Context, user, asset, amount string) (engine.Position, error)
	repayFn        func(ctx context.Context, payer, user, asset, amount string) (string, error)
	collateralFn   func(ctx context.Context, user, asset string, enabled bool) (engine.Position, error)
	liquidateFn    func(ctx context.Context, liquidator, user, debtAsset, collateralAsset, amount string) (engine.Liquidation, error)
	getReserveFn   func(ctx context.Context, asset string) (engine.Reserve, error)
	listReservesFn func(ctx context.Context) ([]engine.Reserve, error)
	getPositionsFn func(ctx context.Context, user string) ([]engine.Position, error)
	getHealthFn    func(ctx context.Context, user string) (engine.Health, error)
	simulateFn     func(ctx context.Context, user, asset string, changeBps int64) (engine.Simulation, error)
	setPriceFn     func(ctx context.Context, asset, price string) error
	setActiveFn    func(ctx context.Context, asset string, active bool) error
	setEmergencyFn func(ctx context.Context, asset string, enabled bool) error
	setPausedFn    func(ctx context.Context, paused bool) error
	withdrawFeesFn func(ctx context.Context, asset, amount string) error
	getControlsFn  func(ctx context.Context) (engine.Controls, error)
}

func (f *fakeEngine) Deposit(ctx context.Context, user, asset, amount string) (engine.Position, error) {
	if f != nil && f.depositFn != nil {
		return f.depositFn(ctx, user, asset, amount)
	}
	return engine.Position{}, nil
}

func (f *fakeEngine) Withdraw(ctx context.Context, user, asset, amount string) (engine.Position, error) {
	if f != nil && f.withdrawFn != nil {
		return f.withdrawFn(ctx, user, asset, amount)
	}
	return engine.Position{}, nil
}

func (f *fakeEngine) Borrow(ctx context.Context, user, asset, amount string) (engine.Position, error) {
	if f != nil && f.borrowFn != nil {
		return f.borrowFn(ctx, user, asset, amount)
	}
	return engine.Position{}, nil
}

func (f *fakeEngine) Repay(ctx context.Context, payer, user, asset, amount string) (string, error) {
	if f != nil && f.repayFn != nil {
		return f.repayFn(ctx, payer, user, asset, amount)
	}
	return "0", nil
}

func (f *fakeEngine) SetCollateral(ctx context.Context, user, asset string, enabled bool) (engine.Position, error) {
	if f != nil && f.collateralFn != nil {
		return f.collateralFn(ctx, user, asset, enabled)
	}
	return engine.Position{}, nil
}

func (f *fakeEngine) Liquidate(ctx context.Context, liquidator, user, debtAsset, collateralAsset, amount string) (engine.Liquidation, error) {
	if f != nil && f.liquidateFn != nil {
		return f.liquidateFn(ctx, liquidator, user, debtAsset, collateralAsset, amount)
	}
	return engine.Liquidation{}, nil
}

func (f *fakeEngine) GetReserve(ctx context.Context, asset string) (engine.Reserve, error) {
	if f != nil && f.getReserveFn != nil {
		return f.getReserveFn(ctx, asset)
	}
	return engine.Reserve{}, nil
}

func (f *fakeEngine) ListReserves(ctx context.Context) ([]engine.Reserve, error) {
	if f != nil && f.listReservesFn != nil {
		return f.listReservesFn(ctx)
	}
	return nil, nil
}

func (f *fakeEngine) GetPositions(ctx context.Context, user string) ([]engine.Position, error) {
	if f != nil && f.getPositionsFn != nil {
		return f.getPositionsFn(ctx, user)
	}
	return nil, nil
}

func (f *fakeEngine) GetHealth(ctx context.Context, user string) (engine.Health, error) {
	if f != nil && f.getHealthFn != nil {
		return f.getHealthFn(ctx, user)
	}
	return engine.Health{}, nil
}

func (f *fakeEngine) Simulate(ctx context.Context, user, asset string, changeBps int64) (engine.Simulation, error) {
	if f != nil && f.simulateFn != nil {
		return f.simulateFn(ctx, user, asset, changeBps)
	}
	return engine.Simulation{}, nil
}

func (f *fakeEngine) SetPrice(ctx context.Context, asset, price string) error {
	if f != nil && f.setPriceFn != nil {
		return f.setPriceFn(ctx, asset, price)
	}
	return nil
}

func (f *fakeEngine) SetReserveActive(ctx context.Context, asset string, active bool) error {
	if f != nil && f.setActiveFn != nil {
		return f.setActiveFn(ctx, asset, active)
	}
	return nil
}

func (f *fakeEngine) SetEmergencyWithdraw(ctx context.Context, asset string, enabled bool) error {
	if f != nil && f.setEmergencyFn != nil {
		return f.setEmergencyFn(ctx, asset, enabled)
	}
	return nil
}

func (f *fakeEngine) SetPaused(ctx context.Context, paused bool) error {
	if f != nil && f.setPausedFn != nil {
		return f.setPausedFn(ctx, paused)
	}
	return nil
}

func (f *fakeEngine) GetControls(ctx context.Context) (engine.Controls, error) {
	if f != nil && f.getControlsFn != nil {
		return f.getControlsFn(ctx)
	}
	return engine.Controls{}, nil
}

func (f *fakeEngine) WithdrawFees(ctx context.Context, asset, amount string) error {
	if f != nil && f.withdrawFeesFn != nil {
		return f.withdrawFeesFn(ctx, asset, amount)
	}
	return nil
}

type fakeJournal struct {
	entries []events.Envelope
	queries []events.Query
}

func (j *fakeJournal) List(_ context.Context, q events.Query) ([]events.Envelope, error) {
	j.queries = append(j.queries, q)
	out := make([]events.Envelope, 0, len(j.entries))
	for _, env := range j.entries {
		if q.Matches(env) {
			out = append(out, env)
		}
	}
	return out, nil
}

type fakeFeed struct {
	mu          sync.Mutex
	subscribers []chan events.Envelope
	subscribed  chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subscribed: make(chan struct{}, 1)}
}

func (f *fakeFeed) Subscribe(context.Context) (<-chan events.Envelope, func()) {
	ch := make(chan events.Envelope, 4)
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()
	f.subscribed <- struct{}{}
	return ch, func() {}
}

func (f *fakeFeed) publish(env events.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		ch <- env
	}
}
