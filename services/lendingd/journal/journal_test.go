package journal

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crossledger/core/events"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := NewStore(db, 10)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var (
	asset  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	keeper = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func TestJournalPersistsAndFilters(t *testing.T) {
	store := setupTestStore(t)
	hub := NewBroadcaster()
	j := New(store, hub, nil)
	base := time.Unix(1_700_000_000, 0)
	tick := 0
	j.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	j.Emit(events.LendingDeposit{User: alice, Asset: asset, Amount: big.NewInt(100)})
	j.Emit(events.LendingRepay{Payer: bob, User: alice, Asset: asset, Amount: big.NewInt(5)})
	j.Emit(events.LendingDeposit{User: bob, Asset: asset, Amount: big.NewInt(7)})

	ctx := context.Background()
	all, err := store.List(ctx, events.Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, events.TypeLendingDeposit, all[0].Type)
	require.Equal(t, "7", all[0].Attributes["amount"])
	require.True(t, all[0].ObservedAt.After(all[2].ObservedAt))

	forBob, err := store.List(ctx, events.Query{User: bob.Hex()})
	require.NoError(t, err)
	require.Len(t, forBob, 2)
	for _, env := range forBob {
		require.True(t, events.Query{User: bob.Hex()}.Matches(env))
	}

	repays, err := store.List(ctx, events.Query{Type: "LENDING.REPAY"})
	require.NoError(t, err)
	require.Len(t, repays, 1)

	limited, err := store.List(ctx, events.Query{User: alice.Hex(), Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, events.TypeLendingRepay, limited[0].Type)
}

func TestJournalIndexesLiquidator(t *testing.T) {
	store := setupTestStore(t)
	j := New(store, nil, nil)
	j.Emit(events.LendingLiquidation{
		Liquidator:       keeper,
		User:             alice,
		DebtAsset:        asset,
		CollateralAsset:  asset,
		DebtRepaid:       big.NewInt(10),
		CollateralSeized: big.NewInt(11),
	})
	got, err := store.List(context.Background(), events.Query{User: keeper.Hex()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, events.TypeLendingLiquidation, got[0].Type)
}

func TestAppendRejectsInvalidID(t *testing.T) {
	store := setupTestStore(t)
	err := store.Append(context.Background(), events.Envelope{ID: "nope", Type: "x"})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", 0)
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestBroadcasterDeliversAndDrops(t *testing.T) {
	hub := NewBroadcaster()
	drops := 0
	hub.OnDrop(func() { drops++ })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, unsubscribe := hub.Subscribe(ctx)
	require.Equal(t, 1, hub.Subscribers())

	for i := 0; i < subscriberBuffer+3; i++ {
		hub.Publish(events.Envelope{ID: fmt.Sprint(i)})
	}
	require.Equal(t, 3, drops)
	first := <-ch
	require.Equal(t, "0", first.ID)

	unsubscribe()
	unsubscribe()
	require.Equal(t, 0, hub.Subscribers())
	for range ch {
	}
}

func TestBroadcasterClosesOnContextDone(t *testing.T) {
	hub := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := hub.Subscribe(ctx)
	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-ch
	require.False(t, open)
}
