package lendingstate

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"crossledger/native/bank"
	"crossledger/native/lending"
	"crossledger/services/oracle"
	"crossledger/storage"
)

var (
	assetA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	assetB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	module = common.HexToAddress("0x000000000000000000000000000000000000f00d")
)

func TestStoreMissingRecords(t *testing.T) {
	store, err := NewStore(storage.NewMemDB())
	require.NoError(t, err)

	reserve, err := store.GetReserve(assetA)
	require.NoError(t, err)
	require.Nil(t, reserve)

	position, err := store.GetPosition(assetA, alice)
	require.NoError(t, err)
	require.Nil(t, position)

	index, err := store.ListReserves()
	require.NoError(t, err)
	require.Empty(t, index)

	controls, err := store.GetControls()
	require.NoError(t, err)
	require.Nil(t, controls)
}

func TestNewStoreRequiresDatabase(t *testing.T) {
	_, err := NewStore(nil)
	require.ErrorIs(t, err, ErrNilDatabase)
}

func TestStoreReservePreservesFields(t *testing.T) {
	store, err := NewStore(storage.NewMemDB())
	require.NoError(t, err)

	in := &lending.Reserve{
		Asset:                assetA,
		TotalDeposited:       big.NewInt(1_000),
		TotalBorrowed:        big.NewInt(400),
		LiquidityRate:        120,
		BorrowRate:           300,
		LastUpdateTime:       1_700_000_000,
		Active:               true,
		LoanToValue:          7500,
		LiquidationThreshold: 8000,
		ReserveFactor:        1000,
		CollectedFees:        big.NewInt(7),
		Decimals:             18,
		EmergencyWithdraw:    true,
		Model:                lending.DefaultInterestModel(),
	}
	require.NoError(t, store.PutReserve(in))

	out, err := store.GetReserve(assetA)
	require.NoError(t, err)
	require.Equal(t, 0, out.TotalDeposited.Cmp(in.TotalDeposited))
	require.Equal(t, 0, out.TotalBorrowed.Cmp(in.TotalBorrowed))
	require.Equal(t, 0, out.CollectedFees.Cmp(in.CollectedFees))
	require.Equal(t, 0, out.MaxCapacity.Sign())
	require.Equal(t, in.Model, out.Model)
	require.True(t, out.EmergencyWithdraw)
	require.Equal(t, uint64(8000), out.LiquidationThreshold)
}

func TestStoreApplyChangesWritesEverything(t *testing.T) {
	store, err := NewStore(storage.NewMemDB())
	require.NoError(t, err)

	cs := &lending.ChangeSet{
		Reserves:     []*lending.Reserve{{Asset: assetA, Active: true}},
		ReserveIndex: []common.Address{assetA, assetB},
		IndexChanged: true,
		Positions: []*lending.Position{{
			Asset: assetA, User: alice, Deposited: big.NewInt(50), Borrowed: big.NewInt(5), IsCollateral: true,
		}},
		UserAssets: map[common.Address][]common.Address{alice: {assetA}},
		Controls:   &lending.Controls{Paused: true, FeeRecipient: alice},
	}
	require.NoError(t, store.ApplyChanges(cs))

	index, err := store.ListReserves()
	require.NoError(t, err)
	require.Equal(t, []common.Address{assetA, assetB}, index)

	position, err := store.GetPosition(assetA, alice)
	require.NoError(t, err)
	require.Equal(t, "50", position.Deposited.String())
	require.Equal(t, "5", position.Borrowed.String())
	require.True(t, position.IsCollateral)

	other, err := store.GetPosition(assetB, alice)
	require.NoError(t, err)
	require.Nil(t, other)

	assets, err := store.GetUserAssets(alice)
	require.NoError(t, err)
	require.Equal(t, []common.Address{assetA}, assets)

	controls, err := store.GetControls()
	require.NoError(t, err)
	require.True(t, controls.Paused)
	require.Equal(t, alice, controls.FeeRecipient)
}

func TestPositionKeysAreDistinct(t *testing.T) {
	require.NotEqual(t, positionKey(assetA, alice), positionKey(alice, assetA))
	require.Len(t, positionKey(assetA, alice), len(positionPrefix)+32)
}

func newEngine(t *testing.T, store *Store, ledger *bank.Ledger, feed *oracle.Feed) *lending.Engine {
	t.Helper()
	engine := lending.NewEngine(module, lending.DefaultParams())
	engine.SetState(store)
	engine.SetLedger(ledger)
	engine.SetPriceSource(feed)
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return engine
}

func TestEngineStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	ctx := context.Background()

	ledger := bank.NewLedger()
	require.NoError(t, ledger.Mint(assetA, alice, big.NewInt(1_000)))
	feed := oracle.NewFeed(0)
	require.NoError(t, feed.SetPrice(assetA, big.NewInt(1)))

	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)

	engine := newEngine(t, store, ledger, feed)
	require.NoError(t, engine.AddReserve(ctx, assetA, lending.ReserveParams{
		LoanToValue: 7500, LiquidationThreshold: 8000, ReserveFactor: 1000,
	}))
	_, err = engine.Deposit(ctx, alice, assetA, big.NewInt(600))
	require.NoError(t, err)
	db.Close()

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	store, err = NewStore(db)
	require.NoError(t, err)

	reopened := newEngine(t, store, ledger, feed)
	position, err := reopened.Position(ctx, assetA, alice)
	require.NoError(t, err)
	require.Equal(t, "600", position.Deposited.String())
	require.True(t, position.IsCollateral)

	reserves, err := reopened.ListReserves(ctx)
	require.NoError(t, err)
	require.Len(t, reserves, 1)
	require.Equal(t, "600", ledger.BalanceOf(assetA, module).String())
}
