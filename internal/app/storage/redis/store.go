// Package redis implements the storage interfaces over a Redis key/value
// store.
//
// Key layout:
//
//	user:<uuid>         user record JSON
//	pubKey:<publicKey>  uuid index
//	user:nineum:<uuid>  set of nineum identifiers
//	flavorMap           hash of flavor -> issuance count
//	galaxy:<id>         claimed galaxy owner uuid
//	spellbook           versioned routing table JSON
//	bootstrap:<spell>   join bootstrap slot counter
//
// The flavor counter uses HINCRBY and galaxy claims use SETNX, so concurrent
// mints and claims cannot interleave. The ordinal replay check runs inside a
// WATCH transaction and retries on contention.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fount-network/fount/internal/app/domain/spellbook"
	"github.com/fount-network/fount/internal/app/domain/user"
	"github.com/fount-network/fount/internal/app/storage"
)

const (
	keyFlavorMap = "flavorMap"
	keySpellbook = "spellbook"

	// maxTxRetries bounds optimistic WATCH retries under contention.
	maxTxRetries = 16
)

// Store implements the storage interfaces backed by Redis.
type Store struct {
	client *redis.Client
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.NineumStore = (*Store)(nil)
var _ storage.SpellbookStore = (*Store)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client, mainly for tests.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

func userKey(uuid string) string       { return "user:" + uuid }
func pubKeyKey(pk string) string       { return "pubKey:" + pk }
func nineumKey(uuid string) string     { return "user:nineum:" + uuid }
func galaxyKey(id string) string       { return "galaxy:" + id }
func bootstrapKey(spell string) string { return "bootstrap:" + spell }

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	now := nowUTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	data, err := json.Marshal(u)
	if err != nil {
		return user.User{}, fmt.Errorf("marshal user: %w", err)
	}

	ok, err := s.client.SetNX(ctx, userKey(u.UUID), data, 0).Result()
	if err != nil {
		return user.User{}, fmt.Errorf("store user: %w", err)
	}
	if !ok {
		return user.User{}, fmt.Errorf("user %s already exists", u.UUID)
	}

	indexed, err := s.client.SetNX(ctx, pubKeyKey(u.PublicKey), u.UUID, 0).Result()
	if err != nil {
		return user.User{}, fmt.Errorf("index public key: %w", err)
	}
	if !indexed {
		_ = s.client.Del(ctx, userKey(u.UUID)).Err()
		return user.User{}, fmt.Errorf("public key already registered")
	}

	return u, nil
}

func (s *Store) SaveUser(ctx context.Context, u user.User) (user.User, error) {
	key := userKey(u.UUID)
	var saved user.User

	txn := func(tx *redis.Tx) error {
		current, err := getUser(ctx, tx, key)
		if err != nil {
			return err
		}

		u.CreatedAt = current.CreatedAt
		u.UpdatedAt = nowUTC()
		u.Ordinal = current.Ordinal + 1

		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if u.PublicKey != current.PublicKey {
				pipe.Del(ctx, pubKeyKey(current.PublicKey))
				pipe.Set(ctx, pubKeyKey(u.PublicKey), u.UUID, 0)
			}
			return nil
		})
		if err == nil {
			saved = u
		}
		return err
	}

	if err := s.watchRetry(ctx, txn, key); err != nil {
		return user.User{}, err
	}
	return saved, nil
}

func (s *Store) GetUser(ctx context.Context, uuid string) (user.User, error) {
	return getUser(ctx, s.client, userKey(uuid))
}

func (s *Store) GetUserByPublicKey(ctx context.Context, publicKey string) (user.User, error) {
	uuid, err := s.client.Get(ctx, pubKeyKey(publicKey)).Result()
	if errors.Is(err, redis.Nil) {
		return user.User{}, storage.ErrNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("lookup public key: %w", err)
	}
	return s.GetUser(ctx, uuid)
}

func (s *Store) DeleteUser(ctx context.Context, uuid string) error {
	u, err := s.GetUser(ctx, uuid)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userKey(uuid))
		pipe.Del(ctx, pubKeyKey(u.PublicKey))
		pipe.Del(ctx, nineumKey(uuid))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ConsumeOrdinal atomically verifies the presented ordinal against the
// stored record and bumps it, so a replayed request loses the race.
func (s *Store) ConsumeOrdinal(ctx context.Context, uuid string, expected uint64) (bool, error) {
	key := userKey(uuid)
	matched := false

	txn := func(tx *redis.Tx) error {
		u, err := getUser(ctx, tx, key)
		if err != nil {
			return err
		}
		if u.Ordinal != expected {
			matched = false
			return nil
		}

		u.Ordinal++
		u.UpdatedAt = nowUTC()
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			matched = true
		}
		return err
	}

	if err := s.watchRetry(ctx, txn, key); err != nil {
		return false, err
	}
	return matched, nil
}

// NineumStore implementation --------------------------------------------------

func (s *Store) ListNineum(ctx context.Context, uuid string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, nineumKey(uuid)).Result()
	if err != nil {
		return nil, fmt.Errorf("list nineum: %w", err)
	}
	return ids, nil
}

func (s *Store) AddNineum(ctx context.Context, uuid string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.client.SAdd(ctx, nineumKey(uuid), members...).Err(); err != nil {
		return fmt.Errorf("add nineum: %w", err)
	}
	return nil
}

func (s *Store) TransferNineum(ctx context.Context, from, to string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	fromKey := nineumKey(from)

	txn := func(tx *redis.Tx) error {
		for _, id := range ids {
			owned, err := tx.SIsMember(ctx, fromKey, id).Result()
			if err != nil {
				return fmt.Errorf("check ownership: %w", err)
			}
			if !owned {
				return fmt.Errorf("nineum %s not owned by %s", id, from)
			}
		}

		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, fromKey, members...)
			pipe.SAdd(ctx, nineumKey(to), members...)
			return nil
		})
		return err
	}

	return s.watchRetry(ctx, txn, fromKey)
}

func (s *Store) DeleteNineum(ctx context.Context, uuid string) error {
	if err := s.client.Del(ctx, nineumKey(uuid)).Err(); err != nil {
		return fmt.Errorf("delete nineum: %w", err)
	}
	return nil
}

func (s *Store) IncrementFlavorCount(ctx context.Context, flavor string, delta uint32) (uint32, error) {
	after, err := s.client.HIncrBy(ctx, keyFlavorMap, flavor, int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment flavor count: %w", err)
	}
	return uint32(after) - delta, nil
}

func (s *Store) GetFlavorCount(ctx context.Context, flavor string) (uint32, error) {
	raw, err := s.client.HGet(ctx, keyFlavorMap, flavor).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get flavor count: %w", err)
	}
	var count uint32
	if _, err := fmt.Sscanf(raw, "%d", &count); err != nil {
		return 0, fmt.Errorf("parse flavor count %q: %w", raw, err)
	}
	return count, nil
}

func (s *Store) ClaimGalaxy(ctx context.Context, galaxyID, ownerUUID string) error {
	ok, err := s.client.SetNX(ctx, galaxyKey(galaxyID), ownerUUID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim galaxy: %w", err)
	}
	if !ok {
		return storage.ErrGalaxyClaimed
	}
	return nil
}

func (s *Store) GetGalaxyOwner(ctx context.Context, galaxyID string) (string, error) {
	owner, err := s.client.Get(ctx, galaxyKey(galaxyID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get galaxy owner: %w", err)
	}
	return owner, nil
}

func (s *Store) NextBootstrapSlot(ctx context.Context, spellName string) (int, error) {
	slot, err := s.client.Incr(ctx, bootstrapKey(spellName)).Result()
	if err != nil {
		return 0, fmt.Errorf("next bootstrap slot: %w", err)
	}
	return int(slot), nil
}

// SpellbookStore implementation -----------------------------------------------

func (s *Store) LoadBook(ctx context.Context) (spellbook.Book, error) {
	raw, err := s.client.Get(ctx, keySpellbook).Result()
	if errors.Is(err, redis.Nil) {
		return spellbook.Book{}, storage.ErrNotFound
	}
	if err != nil {
		return spellbook.Book{}, fmt.Errorf("load spellbook: %w", err)
	}

	var book spellbook.Book
	if err := json.Unmarshal([]byte(raw), &book); err != nil {
		return spellbook.Book{}, fmt.Errorf("decode spellbook: %w", err)
	}
	return book, nil
}

func (s *Store) SeedBook(ctx context.Context, book spellbook.Book) (spellbook.Book, error) {
	if book.Spells == nil {
		book.Spells = make(map[string]spellbook.Entry)
	}
	if book.Version == 0 {
		book.Version = 1
	}

	data, err := json.Marshal(book)
	if err != nil {
		return spellbook.Book{}, fmt.Errorf("marshal spellbook: %w", err)
	}

	set, err := s.client.SetNX(ctx, keySpellbook, data, 0).Result()
	if err != nil {
		return spellbook.Book{}, fmt.Errorf("seed spellbook: %w", err)
	}
	if !set {
		return s.LoadBook(ctx)
	}
	return book, nil
}

func (s *Store) AppendSpell(ctx context.Context, name string, entry spellbook.Entry) (spellbook.Book, error) {
	var appended spellbook.Book

	txn := func(tx *redis.Tx) error {
		book := spellbook.Book{Spells: make(map[string]spellbook.Entry)}
		raw, err := tx.Get(ctx, keySpellbook).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("load spellbook: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal([]byte(raw), &book); err != nil {
				return fmt.Errorf("decode spellbook: %w", err)
			}
		}
		if book.Spells == nil {
			book.Spells = make(map[string]spellbook.Entry)
		}

		if _, exists := book.Spells[name]; exists {
			return storage.ErrSpellExists
		}
		book.Spells[name] = entry
		book.Version++

		data, err := json.Marshal(book)
		if err != nil {
			return fmt.Errorf("marshal spellbook: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keySpellbook, data, 0)
			return nil
		})
		if err == nil {
			appended = book
		}
		return err
	}

	if err := s.watchRetry(ctx, txn, keySpellbook); err != nil {
		return spellbook.Book{}, err
	}
	return appended, nil
}

// helpers ----------------------------------------------------------------------

func nowUTC() time.Time { return time.Now().UTC() }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getUser(ctx context.Context, g getter, key string) (user.User, error) {
	raw, err := g.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return user.User{}, storage.ErrNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("get user: %w", err)
	}

	var u user.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return user.User{}, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}

// watchRetry runs txn under WATCH on keys, retrying on optimistic-lock
// failures up to maxTxRetries.
func (s *Store) watchRetry(ctx context.Context, txn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transaction contention on %v", keys)
}
