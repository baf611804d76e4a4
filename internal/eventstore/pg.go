package eventstore

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/schema"
	"main/pkg/conn"
)

// PGIndex mirrors the log into an append-only postgres table so operators
// can query by (stream_id, timestamp) and by type without touching
// segments. The WAL stays the source of truth; inserts here never conflict
// because IDs are content-addressed.
type PGIndex struct {
	db *gorm.DB
}

// NewPGIndex migrates the events table and returns the index.
func NewPGIndex(client *conn.Client) (*PGIndex, error) {
	db := client.DB()
	if err := db.AutoMigrate(&schema.Event{}); err != nil {
		return nil, err
	}
	return &PGIndex{db: db}, nil
}

// Insert writes one event, ignoring rows that already exist.
func (x *PGIndex) Insert(event schema.Event) error {
	return x.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&event).Error
}

var _ Index = (*PGIndex)(nil)
