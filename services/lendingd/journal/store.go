package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crossledger/core/events"
)

// ErrUnsupportedDriver is returned by Open for unknown driver names.
var ErrUnsupportedDriver = errors.New("journal: unsupported driver")

const maxListLimit = 5000

// partyKeys are the attributes indexed for account lookups.
var partyKeys = []string{"user", "payer", "liquidator", "recipient"}

// EventRecord is one committed lending event.
type EventRecord struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	EventID    uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	User       string    `gorm:"size:42;index"`
	Attributes string    `gorm:"type:text"`
	ObservedAt time.Time `gorm:"index"`
}

// EventParty links an event to every account it names.
type EventParty struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement"`
	EventID uuid.UUID `gorm:"type:uuid;index"`
	Account string    `gorm:"size:42;index"`
}

// AutoMigrate creates the journal tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &EventParty{})
}

// Store persists event envelopes through gorm.
type Store struct {
	db           *gorm.DB
	defaultLimit int
}

// Open connects to the journal database and migrates its schema.
func Open(driver, dsn string, defaultLimit int) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return NewStore(db, defaultLimit)
}

// NewStore wraps an existing connection.
func NewStore(db *gorm.DB, defaultLimit int) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	if defaultLimit <= 0 {
		defaultLimit = 500
	}
	return &Store{db: db, defaultLimit: defaultLimit}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append records env and the accounts it names in one transaction.
func (s *Store) Append(ctx context.Context, env events.Envelope) error {
	id, err := uuid.Parse(env.ID)
	if err != nil {
		return fmt.Errorf("journal: invalid event id %q: %w", env.ID, err)
	}
	attrs, err := json.Marshal(env.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	record := EventRecord{
		EventID:    id,
		Type:       strings.ToLower(env.Type),
		User:       strings.ToLower(env.User),
		Attributes: string(attrs),
		ObservedAt: env.ObservedAt.UTC(),
	}
	parties := partiesOf(id, env.Attributes)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if len(parties) == 0 {
			return nil
		}
		if err := tx.Create(&parties).Error; err != nil {
			return fmt.Errorf("insert parties: %w", err)
		}
		return nil
	})
}

// List returns matching events, newest first.
func (s *Store) List(ctx context.Context, q events.Query) ([]events.Envelope, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := s.db.WithContext(ctx).Model(&EventRecord{})
	if t := strings.TrimSpace(q.Type); t != "" {
		query = query.Where("type = ?", strings.ToLower(t))
	}
	if user := strings.TrimSpace(q.User); user != "" {
		sub := s.db.Model(&EventParty{}).Select("event_id").Where("account = ?", strings.ToLower(user))
		query = query.Where("event_id IN (?)", sub)
	}
	var records []EventRecord
	if err := query.Order("seq DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]events.Envelope, 0, len(records))
	for _, record := range records {
		env, err := record.envelope()
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (r EventRecord) envelope() (events.Envelope, error) {
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return events.Envelope{}, fmt.Errorf("decode event %s: %w", r.EventID, err)
		}
	}
	return events.Envelope{
		ID:         r.EventID.String(),
		Type:       r.Type,
		User:       r.User,
		Attributes: attrs,
		ObservedAt: r.ObservedAt.UTC(),
	}, nil
}

func partiesOf(id uuid.UUID, attrs map[string]string) []EventParty {
	seen := make(map[string]struct{}, len(partyKeys))
	parties := make([]EventParty, 0, len(partyKeys))
	for _, key := range partyKeys {
		account := strings.ToLower(strings.TrimSpace(attrs[key]))
		if account == "" {
			continue
		}
		if _, ok := seen[account]; ok {
			continue
		}
		seen[account] = struct{}{}
		parties = append(parties, EventParty{EventID: id, Account: account})
	}
	return parties
}
