// Package lendingstate persists the lending engine's reserves, positions and
// controls in a storage.Database using RLP encoded records.
package lendingstate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"crossledger/native/lending"
	"crossledger/storage"
)

var (
	reservePrefix   = []byte("lending/reserve/")
	positionPrefix  = []byte("lending/position/")
	userAssetPrefix = []byte("lending/assets/")
	reserveIndexKey = []byte("lending/reserves")
	controlsKey     = []byte("lending/controls")
)

// ErrNilDatabase is returned when the store is constructed without a backend.
var ErrNilDatabase = errors.New("lendingstate: database required")

// Store implements lending.BatchState on top of a key-value database.
type Store struct {
	db storage.Database
}

var _ lending.BatchState = (*Store)(nil)

// NewStore wraps the supplied database.
func NewStore(db storage.Database) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return &Store{db: db}, nil
}

type storedInterestModel struct {
	BaseRate           uint64
	Slope1             uint64
	Slope2             uint64
	OptimalUtilization uint64
	MaxBorrowRate      uint64
}

type storedReserve struct {
	Asset                common.Address
	TotalDeposited       *big.Int
	TotalBorrowed        *big.Int
	LiquidityRate        uint64
	BorrowRate           uint64
	LastUpdateTime       uint64
	Active               bool
	LoanToValue          uint64
	LiquidationThreshold uint64
	MaxCapacity          *big.Int
	ReserveFactor        uint64
	CollectedFees        *big.Int
	Decimals             uint64
	EmergencyWithdraw    bool
	Model                storedInterestModel
}

type storedPosition struct {
	Asset          common.Address
	User           common.Address
	Deposited      *big.Int
	Borrowed       *big.Int
	LastUpdateTime uint64
	IsCollateral   bool
}

type storedControls struct {
	Paused       bool
	FeeRecipient common.Address
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func newStoredReserve(r *lending.Reserve) *storedReserve {
	return &storedReserve{
		Asset:                r.Asset,
		TotalDeposited:       nonNil(r.TotalDeposited),
		TotalBorrowed:        nonNil(r.TotalBorrowed),
		LiquidityRate:        r.LiquidityRate,
		BorrowRate:           r.BorrowRate,
		LastUpdateTime:       r.LastUpdateTime,
		Active:               r.Active,
		LoanToValue:          r.LoanToValue,
		LiquidationThreshold: r.LiquidationThreshold,
		MaxCapacity:          nonNil(r.MaxCapacity),
		ReserveFactor:        r.ReserveFactor,
		CollectedFees:        nonNil(r.CollectedFees),
		Decimals:             r.Decimals,
		EmergencyWithdraw:    r.EmergencyWithdraw,
		Model:                storedInterestModel(r.Model),
	}
}

func (s *storedReserve) toReserve() *lending.Reserve {
	return &lending.Reserve{
		Asset:                s.Asset,
		TotalDeposited:       nonNil(s.TotalDeposited),
		TotalBorrowed:        nonNil(s.TotalBorrowed),
		LiquidityRate:        s.LiquidityRate,
		BorrowRate:           s.BorrowRate,
		LastUpdateTime:       s.LastUpdateTime,
		Active:               s.Active,
		LoanToValue:          s.LoanToValue,
		LiquidationThreshold: s.LiquidationThreshold,
		MaxCapacity:          nonNil(s.MaxCapacity),
		ReserveFactor:        s.ReserveFactor,
		CollectedFees:        nonNil(s.CollectedFees),
		Decimals:             s.Decimals,
		EmergencyWithdraw:    s.EmergencyWithdraw,
		Model:                lending.InterestModel(s.Model),
	}
}

func newStoredPosition(p *lending.Position) *storedPosition {
	return &storedPosition{
		Asset:          p.Asset,
		User:           p.User,
		Deposited:      nonNil(p.Deposited),
		Borrowed:       nonNil(p.Borrowed),
		LastUpdateTime: p.LastUpdateTime,
		IsCollateral:   p.IsCollateral,
	}
}

func (s *storedPosition) toPosition() *lending.Position {
	return &lending.Position{
		Asset:          s.Asset,
		User:           s.User,
		Deposited:      nonNil(s.Deposited),
		Borrowed:       nonNil(s.Borrowed),
		LastUpdateTime: s.LastUpdateTime,
		IsCollateral:   s.IsCollateral,
	}
}

func reserveKey(asset common.Address) []byte {
	return append(append([]byte(nil), reservePrefix...), asset.Bytes()...)
}

func positionKey(asset, user common.Address) []byte {
	var buf [2 * common.AddressLength]byte
	copy(buf[:common.AddressLength], asset.Bytes())
	copy(buf[common.AddressLength:], user.Bytes())
	digest := blake3.Sum256(buf[:])
	return append(append([]byte(nil), positionPrefix...), digest[:]...)
}

func userAssetsKey(user common.Address) []byte {
	return append(append([]byte(nil), userAssetPrefix...), user.Bytes()...)
}

// load decodes the record at key into out. It reports false when the key is
// absent.
func (s *Store) load(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("lendingstate: decode %q: %w", key, err)
	}
	return true, nil
}

func encode(value interface{}) ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return nil, fmt.Errorf("lendingstate: encode: %w", err)
	}
	return encoded, nil
}

func (s *Store) put(key []byte, value interface{}) error {
	encoded, err := encode(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

func (s *Store) GetReserve(asset common.Address) (*lending.Reserve, error) {
	var stored storedReserve
	ok, err := s.load(reserveKey(asset), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toReserve(), nil
}

func (s *Store) PutReserve(reserve *lending.Reserve) error {
	if reserve == nil {
		return fmt.Errorf("lendingstate: reserve required")
	}
	return s.put(reserveKey(reserve.Asset), newStoredReserve(reserve))
}

func (s *Store) ListReserves() ([]common.Address, error) {
	var index []common.Address
	if _, err := s.load(reserveIndexKey, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (s *Store) PutReserveIndex(assets []common.Address) error {
	return s.put(reserveIndexKey, assets)
}

func (s *Store) GetPosition(asset, user common.Address) (*lending.Position, error) {
	var stored storedPosition
	ok, err := s.load(positionKey(asset, user), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toPosition(), nil
}

func (s *Store) PutPosition(position *lending.Position) error {
	if position == nil {
		return fmt.Errorf("lendingstate: position required")
	}
	return s.put(positionKey(position.Asset, position.User), newStoredPosition(position))
}

func (s *Store) GetUserAssets(user common.Address) ([]common.Address, error) {
	var assets []common.Address
	if _, err := s.load(userAssetsKey(user), &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (s *Store) PutUserAssets(user common.Address, assets []common.Address) error {
	return s.put(userAssetsKey(user), assets)
}

func (s *Store) GetControls() (*lending.Controls, error) {
	var stored storedControls
	ok, err := s.load(controlsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.Controls{Paused: stored.Paused, FeeRecipient: stored.FeeRecipient}, nil
}

func (s *Store) PutControls(controls *lending.Controls) error {
	if controls == nil {
		return fmt.Errorf("lendingstate: controls required")
	}
	return s.put(controlsKey, &storedControls{Paused: controls.Paused, FeeRecipient: controls.FeeRecipient})
}

// ApplyChanges encodes the whole change set before writing it in a single
// database batch, so an encoding failure leaves the store untouched.
func (s *Store) ApplyChanges(changes *lending.ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	batch := s.db.NewBatch()
	add := func(key []byte, value interface{}) error {
		encoded, err := encode(value)
		if err != nil {
			return err
		}
		batch.Put(key, encoded)
		return nil
	}
	for _, r := range changes.Reserves {
		if err := add(reserveKey(r.Asset), newStoredReserve(r)); err != nil {
			return err
		}
	}
	if changes.IndexChanged {
		if err := add(reserveIndexKey, changes.ReserveIndex); err != nil {
			return err
		}
	}
	for _, p := range changes.Positions {
		if err := add(positionKey(p.Asset, p.User), newStoredPosition(p)); err != nil {
			return err
		}
	}
	for user, assets := range changes.UserAssets {
		if err := add(userAssetsKey(user), assets); err != nil {
			return err
		}
	}
	if c := changes.Controls; c != nil {
		if err := add(controlsKey, &storedControls{Paused: c.Paused, FeeRecipient: c.FeeRecipient}); err != nil {
			return err
		}
	}
	return batch.Write()
}
