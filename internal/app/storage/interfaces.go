// Package storage declares the persistence contracts the fount services
// depend on. Implementations live in the memory and redis subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/fount-network/fount/internal/app/domain/spellbook"
	"github.com/fount-network/fount/internal/app/domain/user"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrGalaxyClaimed is returned when a galaxy already has an owner.
	ErrGalaxyClaimed = errors.New("Galaxy is already claimed")
	// ErrSpellExists is returned when appending a spell name already registered.
	ErrSpellExists = errors.New("spell already registered")
)

// UserStore persists user records and the public-key index.
//
// SaveUser increments the record's ordinal atomically with the write; the
// ordinal is the replay-protection nonce for signed requests. ConsumeOrdinal
// performs an atomic compare-and-bump so two concurrent requests presenting
// the same ordinal cannot both pass the replay check.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	SaveUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, uuid string) (user.User, error)
	GetUserByPublicKey(ctx context.Context, publicKey string) (user.User, error)
	DeleteUser(ctx context.Context, uuid string) error
	ConsumeOrdinal(ctx context.Context, uuid string, expected uint64) (bool, error)
}

// NineumStore persists per-user token collections, the global flavor
// issuance counters and galaxy claims.
//
// IncrementFlavorCount atomically reserves a block of ordinals for a flavor
// and returns the count before the increment, so a batch of n identifiers
// gets ordinals [returned, returned+n).
type NineumStore interface {
	ListNineum(ctx context.Context, uuid string) ([]string, error)
	AddNineum(ctx context.Context, uuid string, ids []string) error
	TransferNineum(ctx context.Context, from, to string, ids []string) error
	DeleteNineum(ctx context.Context, uuid string) error

	IncrementFlavorCount(ctx context.Context, flavor string, delta uint32) (uint32, error)
	GetFlavorCount(ctx context.Context, flavor string) (uint32, error)

	ClaimGalaxy(ctx context.Context, galaxyID, ownerUUID string) error
	GetGalaxyOwner(ctx context.Context, galaxyID string) (string, error)

	NextBootstrapSlot(ctx context.Context, spellName string) (int, error)
}

// SpellbookStore persists the versioned routing table. AppendSpell must be
// atomic: the version bump and the new entry land together or not at all.
type SpellbookStore interface {
	LoadBook(ctx context.Context) (spellbook.Book, error)
	SeedBook(ctx context.Context, book spellbook.Book) (spellbook.Book, error)
	AppendSpell(ctx context.Context, name string, entry spellbook.Entry) (spellbook.Book, error)
}
