package backlog

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/example/canvas-room-server/domain/room"
)

// backlogRecord is the persisted form of one backlog entry.
type backlogRecord struct {
	RoomID   string `gorm:"primaryKey;size:64;column:room_id"`
	EntryKey string `gorm:"primaryKey;size:64;column:entry_key"`
	Value    []byte `gorm:"column:value"`
}

// TableName specifies the table name for GORM.
func (backlogRecord) TableName() string {
	return "backlog_entries"
}

// GormStore is a BacklogStore backed by a relational database through GORM.
// Room and entry key form the composite primary key, so listing a room in key
// order is an index walk.
type GormStore struct {
	db *gorm.DB
}

var _ domain.BacklogStore = (*GormStore)(nil)

// NewGormStore creates the store and runs migrations.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&backlogRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate backlog schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Put stores a value, replacing any previous value at the same key.
func (s *GormStore) Put(ctx context.Context, roomID, key string, value []byte) error {
	record := backlogRecord{
		RoomID:   roomID,
		EntryKey: key,
		Value:    value,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to put backlog entry %s/%s: %w", roomID, key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *GormStore) Delete(ctx context.Context, roomID, key string) error {
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND entry_key = ?", roomID, key).
		Delete(&backlogRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete backlog entry %s/%s: %w", roomID, key, err)
	}
	return nil
}

// List returns the room's entries ordered by entry key.
func (s *GormStore) List(ctx context.Context, roomID string, opts domain.ListOptions) ([]domain.Entry, error) {
	order := "entry_key ASC"
	if opts.Reverse {
		order = "entry_key DESC"
	}

	query := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order(order)
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var records []backlogRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list backlog for %s: %w", roomID, err)
	}

	entries := make([]domain.Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, domain.Entry{Key: r.EntryKey, Value: r.Value})
	}
	return entries, nil
}

// Ping verifies the underlying database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
