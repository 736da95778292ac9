package lending

import (
	"github.com/ethereum/go-ethereum/common"

	"crossledger/core/events"
)

// State is the persistence surface the engine reads and writes. Getters
// return nil without an error when the record does not exist.
type State interface {
	GetReserve(asset common.Address) (*Reserve, error)
	PutReserve(reserve *Reserve) error
	ListReserves() ([]common.Address, error)
	PutReserveIndex(assets []common.Address) error
	GetPosition(asset, user common.Address) (*Position, error)
	PutPosition(position *Position) error
	GetUserAssets(user common.Address) ([]common.Address, error)
	PutUserAssets(user common.Address, assets []common.Address) error
	GetControls() (*Controls, error)
	PutControls(controls *Controls) error
}

// BatchState is implemented by stores that can apply a change set atomically.
type BatchState interface {
	State
	ApplyChanges(changes *ChangeSet) error
}

// ChangeSet is the write set of one engine transaction.
type ChangeSet struct {
	Reserves     []*Reserve
	ReserveIndex []common.Address
	IndexChanged bool
	Positions    []*Position
	UserAssets   map[common.Address][]common.Address
	Controls     *Controls
}

// Empty reports whether the change set carries no writes.
func (c *ChangeSet) Empty() bool {
	return c == nil || (len(c.Reserves) == 0 && !c.IndexChanged && len(c.Positions) == 0 &&
		len(c.UserAssets) == 0 && c.Controls == nil)
}

type positionKey struct {
	asset common.Address
	user  common.Address
}

// stateTx buffers reads and writes against a State so that a failed action
// leaves the underlying store untouched.
type stateTx struct {
	base State

	reserves      map[common.Address]*Reserve
	reserveOrder  []common.Address
	dirtyReserves map[common.Address]bool

	index        []common.Address
	indexLoaded  bool
	indexChanged bool

	positions      map[positionKey]*Position
	positionOrder  []positionKey
	dirtyPositions map[positionKey]bool

	userAssets      map[common.Address][]common.Address
	dirtyUserAssets map[common.Address]bool

	controls      *Controls
	controlsDirty bool

	events []events.Event
}

func newStateTx(base State) *stateTx {
	return &stateTx{
		base:            base,
		reserves:        make(map[common.Address]*Reserve),
		dirtyReserves:   make(map[common.Address]bool),
		positions:       make(map[positionKey]*Position),
		dirtyPositions:  make(map[positionKey]bool),
		userAssets:      make(map[common.Address][]common.Address),
		dirtyUserAssets: make(map[common.Address]bool),
	}
}

// lookupReserve returns the buffered reserve or nil when it does not exist.
func (tx *stateTx) lookupReserve(asset common.Address) (*Reserve, error) {
	if r, ok := tx.reserves[asset]; ok {
		return r, nil
	}
	stored, err := tx.base.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	r := stored.Clone()
	r.ensureDefaults()
	tx.reserves[asset] = r
	tx.reserveOrder = append(tx.reserveOrder, asset)
	return r, nil
}

func (tx *stateTx) reserve(asset common.Address) (*Reserve, error) {
	r, err := tx.lookupReserve(asset)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrUnknownReserve
	}
	return r, nil
}

func (tx *stateTx) activeReserve(asset common.Address) (*Reserve, error) {
	r, err := tx.reserve(asset)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, ErrReserveInactive
	}
	return r, nil
}

func (tx *stateTx) createReserve(r *Reserve) error {
	if _, ok := tx.reserves[r.Asset]; !ok {
		tx.reserveOrder = append(tx.reserveOrder, r.Asset)
	}
	tx.reserves[r.Asset] = r
	tx.dirtyReserves[r.Asset] = true
	index, err := tx.reserveIndex()
	if err != nil {
		return err
	}
	tx.index = append(index, r.Asset)
	tx.indexChanged = true
	return nil
}

func (tx *stateTx) putReserve(r *Reserve) {
	tx.dirtyReserves[r.Asset] = true
}

func (tx *stateTx) reserveIndex() ([]common.Address, error) {
	if tx.indexLoaded {
		return tx.index, nil
	}
	index, err := tx.base.ListReserves()
	if err != nil {
		return nil, err
	}
	tx.index = append([]common.Address(nil), index...)
	tx.indexLoaded = true
	return tx.index, nil
}

// position returns the buffered position, creating an empty one when the user
// has never touched the asset.
func (tx *stateTx) position(asset, user common.Address) (*Position, error) {
	key := positionKey{asset: asset, user: user}
	if p, ok := tx.positions[key]; ok {
		return p, nil
	}
	stored, err := tx.base.GetPosition(asset, user)
	if err != nil {
		return nil, err
	}
	var p *Position
	if stored == nil {
		p = &Position{Asset: asset, User: user}
	} else {
		p = stored.Clone()
	}
	p.ensureDefaults()
	tx.positions[key] = p
	tx.positionOrder = append(tx.positionOrder, key)
	return p, nil
}

func (tx *stateTx) putPosition(p *Position) {
	tx.dirtyPositions[positionKey{asset: p.Asset, user: p.User}] = true
}

func (tx *stateTx) assetsOf(user common.Address) ([]common.Address, error) {
	if assets, ok := tx.userAssets[user]; ok {
		return assets, nil
	}
	stored, err := tx.base.GetUserAssets(user)
	if err != nil {
		return nil, err
	}
	assets := append([]common.Address(nil), stored...)
	tx.userAssets[user] = assets
	return assets, nil
}

// trackAsset records that the user holds a position in asset, enforcing the
// per-user cap when limit is non-zero.
func (tx *stateTx) trackAsset(user, asset common.Address, limit uint64) error {
	assets, err := tx.assetsOf(user)
	if err != nil {
		return err
	}
	for _, existing := range assets {
		if existing == asset {
			return nil
		}
	}
	if limit > 0 && uint64(len(assets)) >= limit {
		return ErrTooManyAssets
	}
	tx.userAssets[user] = append(assets, asset)
	tx.dirtyUserAssets[user] = true
	return nil
}

func (tx *stateTx) loadControls() (*Controls, error) {
	if tx.controls != nil {
		return tx.controls, nil
	}
	stored, err := tx.base.GetControls()
	if err != nil {
		return nil, err
	}
	tx.controls = stored.Clone()
	return tx.controls, nil
}

func (tx *stateTx) putControls() {
	tx.controlsDirty = true
}

func (tx *stateTx) emit(ev events.Event) {
	tx.events = append(tx.events, ev)
}

func (tx *stateTx) changes() *ChangeSet {
	cs := &ChangeSet{}
	for _, asset := range tx.reserveOrder {
		if tx.dirtyReserves[asset] {
			cs.Reserves = append(cs.Reserves, tx.reserves[asset].Clone())
		}
	}
	if tx.indexChanged {
		cs.IndexChanged = true
		cs.ReserveIndex = append([]common.Address(nil), tx.index...)
	}
	for _, key := range tx.positionOrder {
		if tx.dirtyPositions[key] {
			cs.Positions = append(cs.Positions, tx.positions[key].Clone())
		}
	}
	for user, dirty := range tx.dirtyUserAssets {
		if !dirty {
			continue
		}
		if cs.UserAssets == nil {
			cs.UserAssets = make(map[common.Address][]common.Address)
		}
		cs.UserAssets[user] = append([]common.Address(nil), tx.userAssets[user]...)
	}
	if tx.controlsDirty {
		cs.Controls = tx.controls.Clone()
	}
	return cs
}

// commit flushes the buffered writes. Stores implementing BatchState apply
// them atomically.
func (tx *stateTx) commit() error {
	cs := tx.changes()
	if cs.Empty() {
		return nil
	}
	if batch, ok := tx.base.(BatchState); ok {
		return batch.ApplyChanges(cs)
	}
	return ApplySequential(tx.base, cs)
}

// ApplySequential writes a change set through the plain State methods.
func ApplySequential(state State, cs *ChangeSet) error {
	for _, r := range cs.Reserves {
		if err := state.PutReserve(r); err != nil {
			return err
		}
	}
	if cs.IndexChanged {
		if err := state.PutReserveIndex(cs.ReserveIndex); err != nil {
			return err
		}
	}
	for _, p := range cs.Positions {
		if err := state.PutPosition(p); err != nil {
			return err
		}
	}
	for user, assets := range cs.UserAssets {
		if err := state.PutUserAssets(user, assets); err != nil {
			return err
		}
	}
	if cs.Controls != nil {
		if err := state.PutControls(cs.Controls); err != nil {
			return err
		}
	}
	return nil
}
