package exchange

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the conversation produced a record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Record is one turn of the conversation. Immutable once created.
// Seq is the total-order index assigned at append time; it is strictly
// increasing and never reused, regardless of which subsystem appended.
type Record struct {
	ID        uuid.UUID
	Role      Role
	Text      string
	Seq       int64
	CreatedAt time.Time
}

// Store is an append-only ordered log of conversation records. Appends from
// concurrent triggers (typing, voice finalization, async responses) are
// serialized here; Seq order is the display order.
type Store struct {
	mu      sync.Mutex
	nextSeq int64
	records []Record
}

func NewStore() *Store {
	return &Store{}
}

// Append stores a new record and returns it with its assigned identity.
func (s *Store) Append(role Role, text string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := Record{
		ID:        uuid.New(),
		Role:      role,
		Text:      text,
		Seq:       s.nextSeq,
		CreatedAt: time.Now(),
	}
	s.nextSeq++
	s.records = append(s.records, rec)
	return rec
}

// Snapshot returns a copy of the full log in append order.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records appended so far.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Reset clears the log and returns the records it held. Seq keeps counting
// forward so an archived record's index never collides with a later one.
func (s *Store) Reset() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.records
	s.records = nil
	return out
}
