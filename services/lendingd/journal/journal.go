package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"p2plend/core/events"
	"p2plend/core/types"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// partyRoles lists the attributes that carry participant addresses.
var partyRoles = []string{"admin", "lender", "borrower", "liquidator"}

// Record is the API view of an Entry.
type Record struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Open connects to the configured backend. Driver is sqlite or postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return db, nil
}

// Journal persists engine events and republishes them to live subscribers.
// It implements events.Emitter.
type Journal struct {
	db     *gorm.DB
	hub    *Hub
	logger *slog.Logger
	now    func() time.Time
}

// New migrates the schema and returns a journal writing to db. A nil db keeps
// the hub but skips persistence.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	if db != nil {
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("journal: migrate: %w", err)
		}
	}
	return &Journal{db: db, hub: NewHub(), logger: log, now: time.Now}, nil
}

// Hub exposes the live subscriber hub.
func (j *Journal) Hub() *Hub { return j.hub }

// Emit implements events.Emitter. Persistence failures are logged; the engine
// has already committed by the time events are emitted.
func (j *Journal) Emit(ev events.Event) {
	structured, ok := ev.(events.Structured)
	if !ok || structured == nil {
		return
	}
	payload := structured.Event()
	if payload == nil {
		return
	}
	entry, err := j.entryFor(payload)
	if err != nil {
		j.logger.Error("journal encode failed", "type", payload.Type, "error", err)
		return
	}
	if j.db != nil {
		if err := j.db.Create(entry).Error; err != nil {
			j.logger.Error("journal write failed", "type", payload.Type, "error", err)
		}
	}
	j.hub.publish(toRecord(*entry))
}

func (j *Journal) entryFor(payload *types.Event) (*Entry, error) {
	encoded, err := json.Marshal(payload.Attributes)
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		ID:         uuid.New(),
		Type:       payload.Type,
		LoanID:     payload.ID("loanId"),
		OfferID:    payload.ID("offerId"),
		Attributes: string(encoded),
		CreatedAt:  j.now().UTC(),
	}
	for _, p := range payload.Participants(partyRoles...) {
		entry.Parties = append(entry.Parties, Party{EntryID: entry.ID, Address: p.Address, Role: p.Role})
	}
	return entry, nil
}

// ByAddress returns the newest entries the address took part in.
func (j *Journal) ByAddress(ctx context.Context, address string, limit int) ([]Record, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("journal: address required")
	}
	return j.query(ctx, limit, func(tx *gorm.DB) *gorm.DB {
		sub := j.db.Model(&Party{}).Select("entry_id").Where("address = ?", address)
		return tx.Where("id IN (?)", sub)
	})
}

// ByLoan returns the newest entries for a loan.
func (j *Journal) ByLoan(ctx context.Context, loanID uint64, limit int) ([]Record, error) {
	return j.query(ctx, limit, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("loan_id = ?", loanID)
	})
}

func (j *Journal) query(ctx context.Context, limit int, scope func(*gorm.DB) *gorm.DB) ([]Record, error) {
	if j.db == nil {
		return []Record{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var entries []Entry
	tx := scope(j.db.WithContext(ctx).Model(&Entry{}))
	if err := tx.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, toRecord(e))
	}
	return out, nil
}

func toRecord(e Entry) Record {
	attrs := map[string]string{}
	_ = json.Unmarshal([]byte(e.Attributes), &attrs)
	return Record{ID: e.ID.String(), Type: e.Type, Attributes: attrs, CreatedAt: e.CreatedAt}
}

