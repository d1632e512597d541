package journal

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entry is one persisted engine event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"index;not null"`
	LoanID     uint64    `gorm:"index"`
	OfferID    uint64    `gorm:"index"`
	Attributes string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
	Parties    []Party   `gorm:"constraint:OnDelete:CASCADE"`
}

// Party links an entry to an address that took part in it.
type Party struct {
	ID      uint      `gorm:"primaryKey"`
	EntryID uuid.UUID `gorm:"type:uuid;index;not null"`
	Address string    `gorm:"index;not null"`
	Role    string    `gorm:"not null"`
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{}, &Party{})
}
