package service

import (
	"sync"

	"github.com/and161185/clinic-keeper/internal/model"
)

// Store guards the clinic database. Every service access goes through Do.
type Store struct {
	mu sync.Mutex
	db *model.DB
}

// NewStore wraps db.
func NewStore(db *model.DB) *Store { return &Store{db: db} }

// Do runs fn with exclusive access to the database.
func (s *Store) Do(fn func(db *model.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.db)
}
