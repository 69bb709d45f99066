// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fount-network/fount/internal/app/domain/spellbook"
	"github.com/fount-network/fount/internal/app/domain/user"
	"github.com/fount-network/fount/internal/app/storage"
)

// Store implements all storage interfaces over mutex-guarded maps.
type Store struct {
	mu             sync.RWMutex
	users          map[string]user.User
	uuidByPubKey   map[string]string
	nineum         map[string][]string
	flavorCounts   map[string]uint32
	galaxyOwners   map[string]string
	bootstrapSlots map[string]int
	book           spellbook.Book
	bookSeeded     bool
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.NineumStore = (*Store)(nil)
var _ storage.SpellbookStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:          make(map[string]user.User),
		uuidByPubKey:   make(map[string]string),
		nineum:         make(map[string][]string),
		flavorCounts:   make(map[string]uint32),
		galaxyOwners:   make(map[string]string),
		bootstrapSlots: make(map[string]int),
		book:           spellbook.Book{Spells: make(map[string]spellbook.Entry)},
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.UUID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists", u.UUID)
	}
	if existing, exists := s.uuidByPubKey[u.PublicKey]; exists {
		return user.User{}, fmt.Errorf("public key already registered to %s", existing)
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.UUID] = u
	s.uuidByPubKey[u.PublicKey] = u.UUID
	return u, nil
}

func (s *Store) SaveUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.UUID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}

	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	u.Ordinal = original.Ordinal + 1

	if u.PublicKey != original.PublicKey {
		delete(s.uuidByPubKey, original.PublicKey)
		s.uuidByPubKey[u.PublicKey] = u.UUID
	}

	s.users[u.UUID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, uuid string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[uuid]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByPublicKey(_ context.Context, publicKey string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uuid, ok := s.uuidByPubKey[publicKey]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.users[uuid], nil
}

func (s *Store) DeleteUser(_ context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[uuid]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.uuidByPubKey, u.PublicKey)
	delete(s.users, uuid)
	return nil
}

func (s *Store) ConsumeOrdinal(_ context.Context, uuid string, expected uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[uuid]
	if !ok {
		return false, storage.ErrNotFound
	}
	if u.Ordinal != expected {
		return false, nil
	}
	u.Ordinal++
	u.UpdatedAt = time.Now().UTC()
	s.users[uuid] = u
	return true, nil
}

// NineumStore implementation --------------------------------------------------

func (s *Store) ListNineum(_ context.Context, uuid string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.nineum[uuid]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *Store) AddNineum(_ context.Context, uuid string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nineum[uuid] = append(s.nineum[uuid], ids...)
	return nil
}

func (s *Store) TransferNineum(_ context.Context, from, to string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := make(map[string]bool, len(s.nineum[from]))
	for _, id := range s.nineum[from] {
		owned[id] = true
	}
	for _, id := range ids {
		if !owned[id] {
			return fmt.Errorf("nineum %s not owned by %s", id, from)
		}
	}

	moving := make(map[string]bool, len(ids))
	for _, id := range ids {
		moving[id] = true
	}

	remaining := s.nineum[from][:0]
	for _, id := range s.nineum[from] {
		if !moving[id] {
			remaining = append(remaining, id)
		}
	}
	s.nineum[from] = remaining
	s.nineum[to] = append(s.nineum[to], ids...)
	return nil
}

func (s *Store) DeleteNineum(_ context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nineum, uuid)
	return nil
}

func (s *Store) IncrementFlavorCount(_ context.Context, flavor string, delta uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.flavorCounts[flavor]
	s.flavorCounts[flavor] = before + delta
	return before, nil
}

func (s *Store) GetFlavorCount(_ context.Context, flavor string) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.flavorCounts[flavor], nil
}

func (s *Store) ClaimGalaxy(_ context.Context, galaxyID, ownerUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, claimed := s.galaxyOwners[galaxyID]; claimed {
		return storage.ErrGalaxyClaimed
	}
	s.galaxyOwners[galaxyID] = ownerUUID
	return nil
}

func (s *Store) GetGalaxyOwner(_ context.Context, galaxyID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.galaxyOwners[galaxyID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return owner, nil
}

func (s *Store) NextBootstrapSlot(_ context.Context, spellName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bootstrapSlots[spellName]++
	return s.bootstrapSlots[spellName], nil
}

// SpellbookStore implementation -----------------------------------------------

func (s *Store) LoadBook(_ context.Context) (spellbook.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.bookSeeded {
		return spellbook.Book{}, storage.ErrNotFound
	}
	return cloneBook(s.book), nil
}

func (s *Store) SeedBook(_ context.Context, book spellbook.Book) (spellbook.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bookSeeded {
		return cloneBook(s.book), nil
	}
	if book.Spells == nil {
		book.Spells = make(map[string]spellbook.Entry)
	}
	if book.Version == 0 {
		book.Version = 1
	}
	s.book = cloneBook(book)
	s.bookSeeded = true
	return cloneBook(s.book), nil
}

func (s *Store) AppendSpell(_ context.Context, name string, entry spellbook.Entry) (spellbook.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bookSeeded {
		s.book = spellbook.Book{Spells: make(map[string]spellbook.Entry)}
		s.bookSeeded = true
	}
	if _, exists := s.book.Spells[name]; exists {
		return spellbook.Book{}, storage.ErrSpellExists
	}
	s.book.Spells[name] = entry
	s.book.Version++
	return cloneBook(s.book), nil
}

func cloneBook(b spellbook.Book) spellbook.Book {
	out := spellbook.Book{Version: b.Version, Spells: make(map[string]spellbook.Entry, len(b.Spells))}
	for name, entry := range b.Spells {
		if entry.Destinations != nil {
			dests := make([]spellbook.Destination, len(entry.Destinations))
			copy(dests, entry.Destinations)
			entry.Destinations = dests
		}
		if entry.RequiredNineum != nil {
			req := *entry.RequiredNineum
			entry.RequiredNineum = &req
		}
		out.Spells[name] = entry
	}
	return out
}
