package room

import (
	"context"
	"errors"
)

// ErrEntryNotFound is returned by stores when a key is absent.
var ErrEntryNotFound = errors.New("backlog entry not found")

// Entry is one persisted backlog record. Key is the ISO-8601 form of the
// event's logical timestamp, Value the serialized content event.
type Entry struct {
	Key   string
	Value []byte
}

// ListOptions controls a backlog listing.
type ListOptions struct {
	// Reverse lists newest-first instead of the natural chronological order.
	Reverse bool
	// Limit caps the number of entries returned; zero means no cap.
	Limit int
}

// BacklogStore is the durable key/value backing for room history. Each room
// identifier names an isolated partition; operations on one room never observe
// another room's entries.
type BacklogStore interface {
	Put(ctx context.Context, roomID, key string, value []byte) error
	Delete(ctx context.Context, roomID, key string) error
	List(ctx context.Context, roomID string, opts ListOptions) ([]Entry, error)
}
