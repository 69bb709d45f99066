// Package economy owns the regenerating MP pool and the experience accrual
// pipeline for users.
//
// Both resources accrue independently and are reconciled lazily on every
// read: MP regenerates toward the configured cap, and unrealized experience
// trickles from the pool into the absorbed total at the configured
// absorption rate. The reconciled record is persisted after each read, which
// also advances the replay-protection ordinal.
package economy

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/fount-network/fount/internal/app/domain/user"
	"github.com/fount-network/fount/internal/app/services/identity"
	"github.com/fount-network/fount/internal/app/storage"
	"github.com/fount-network/fount/internal/config"
	"github.com/fount-network/fount/internal/errors"
	"github.com/fount-network/fount/pkg/logger"
)

// Minter issues cosmetic nineum into a user's collection. Implemented by the
// nineum service.
type Minter interface {
	Mint(ctx context.Context, ownerUUID string, quantity int) ([]string, error)
}

// PaymentProvider is the opaque "spend real money" collaborator. Retry is
// its responsibility, not this package's.
type PaymentProvider interface {
	Spend(ctx context.Context, uuid string, amount int) (bool, error)
}

// Service is the user/economy engine.
type Service struct {
	users    storage.UserStore
	minter   Minter
	payments PaymentProvider
	cfg      config.EconomyConfig
	log      *logger.Logger

	now func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand
}

// New constructs the economy engine.
func New(users storage.UserStore, minter Minter, payments PaymentProvider, cfg config.EconomyConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("economy")
	}
	return &Service{
		users:    users,
		minter:   minter,
		payments: payments,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock overrides the time source. Call before use; intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithRand overrides the randomness source used for probabilistic rounding.
func (s *Service) WithRand(r *rand.Rand) *Service {
	s.rand = r
	return s
}

// CreateUser registers a new user keyed by public key, starting with a full
// MP pool.
func (s *Service) CreateUser(ctx context.Context, publicKey string) (user.User, error) {
	if publicKey == "" {
		return user.User{}, errors.Validation("pubKey is required")
	}

	now := s.now()
	u := user.User{
		UUID:                     identity.GenerateID(),
		PublicKey:                publicKey,
		MP:                       s.cfg.MaxMP,
		MaxMP:                    s.cfg.MaxMP,
		LastMPUsedAt:             now,
		LastExperienceComputedAt: now,
	}

	created, err := s.users.CreateUser(ctx, u)
	if err != nil {
		return user.User{}, fmt.Errorf("create user: %w", err)
	}
	s.log.WithField("uuid", created.UUID).Info("user created")
	return created, nil
}

// GetUser reconciles MP and experience and persists the result.
func (s *Service) GetUser(ctx context.Context, uuid string) (user.User, error) {
	u, err := s.users.GetUser(ctx, uuid)
	if err != nil {
		return user.User{}, err
	}
	return s.saveReconciled(ctx, s.reconcile(u))
}

// GetUserByPublicKey resolves a user by public key and reconciles it.
func (s *Service) GetUserByPublicKey(ctx context.Context, publicKey string) (user.User, error) {
	u, err := s.users.GetUserByPublicKey(ctx, publicKey)
	if err != nil {
		return user.User{}, err
	}
	return s.saveReconciled(ctx, s.reconcile(u))
}

// DeleteUser removes the user record.
func (s *Service) DeleteUser(ctx context.Context, uuid string) error {
	return s.users.DeleteUser(ctx, uuid)
}

// SpendMP debits amount from the user's reconciled pool, mints nineum at the
// configured MP-per-token ratio (fractional remainder resolved by a weighted
// coin flip), and persists the result. Insufficient MP yields an economic
// rejection carrying the shortfall.
func (s *Service) SpendMP(ctx context.Context, uuid string, amount int) (user.User, []string, error) {
	if amount < 0 {
		return user.User{}, nil, errors.Validation("amount must be non-negative")
	}

	u, err := s.users.GetUser(ctx, uuid)
	if err != nil {
		return user.User{}, nil, err
	}
	u = s.reconcile(u)

	if u.MP < amount {
		return user.User{}, nil, errors.Economic(errors.EconomicMP, "insufficient MP", float64(amount), float64(u.MP))
	}
	u.MP -= amount
	u.LastMPUsedAt = s.now()

	minted, err := s.mintFor(ctx, uuid, amount)
	if err != nil {
		return user.User{}, nil, err
	}
	u.NineumCount += len(minted)

	saved, err := s.users.SaveUser(ctx, u)
	if err != nil {
		return user.User{}, nil, fmt.Errorf("save user: %w", err)
	}
	return saved, minted, nil
}

// SpendCurrency delegates to the payment collaborator.
func (s *Service) SpendCurrency(ctx context.Context, uuid string, amount int) (bool, error) {
	if s.payments == nil {
		return false, errors.Economic(errors.EconomicCurrency, "no payment provider configured", float64(amount), 0)
	}
	return s.payments.Spend(ctx, uuid, amount)
}

// Grant transfers experience from granter to recipient. The granter must
// hold mp >= amount * experienceToMP; the debit is ceil(amount /
// experienceToMP). When the granter cannot afford it the source user is
// returned unchanged with no error. That silent no-op mirrors the documented
// behavior of the route this engine replaces.
func (s *Service) Grant(ctx context.Context, granterUUID, recipientUUID string, amount int) (user.User, error) {
	if amount <= 0 {
		return user.User{}, errors.Validation("amount must be positive")
	}

	granter, err := s.users.GetUser(ctx, granterUUID)
	if err != nil {
		return user.User{}, err
	}
	granter = s.reconcile(granter)

	if granter.MP < amount*s.cfg.ExperienceToMP {
		s.log.WithFields(map[string]interface{}{
			"granter": granterUUID,
			"amount":  amount,
		}).Debug("grant skipped: insufficient MP")
		return s.saveReconciled(ctx, granter)
	}

	recipient, err := s.users.GetUser(ctx, recipientUUID)
	if err != nil {
		return user.User{}, err
	}
	recipient = s.reconcile(recipient)
	recipient.ExperiencePool += amount
	if _, err := s.users.SaveUser(ctx, recipient); err != nil {
		return user.User{}, fmt.Errorf("save recipient: %w", err)
	}

	granter.MP -= int(math.Ceil(float64(amount) / float64(s.cfg.ExperienceToMP)))
	granter.LastMPUsedAt = s.now()

	saved, err := s.users.SaveUser(ctx, granter)
	if err != nil {
		return user.User{}, fmt.Errorf("save granter: %w", err)
	}
	return saved, nil
}

// AddExperience credits amount to the user's experience pool, from which it
// trickles into the absorbed total on subsequent reads.
func (s *Service) AddExperience(ctx context.Context, uuid string, amount int) (user.User, error) {
	u, err := s.users.GetUser(ctx, uuid)
	if err != nil {
		return user.User{}, err
	}
	u = s.reconcile(u)
	u.ExperiencePool += amount

	saved, err := s.users.SaveUser(ctx, u)
	if err != nil {
		return user.User{}, fmt.Errorf("save user: %w", err)
	}
	return saved, nil
}

// Reward credits experience 1:1 with amount and mints nineum at the MP
// ratio, returning the updated user and the minted identifiers.
func (s *Service) Reward(ctx context.Context, uuid string, amount int) (user.User, []string, error) {
	if amount <= 0 {
		u, err := s.GetUser(ctx, uuid)
		return u, nil, err
	}

	minted, err := s.mintFor(ctx, uuid, amount)
	if err != nil {
		return user.User{}, nil, err
	}

	u, err := s.users.GetUser(ctx, uuid)
	if err != nil {
		return user.User{}, nil, err
	}
	u = s.reconcile(u)
	u.ExperiencePool += amount
	u.NineumCount += len(minted)

	saved, err := s.users.SaveUser(ctx, u)
	if err != nil {
		return user.User{}, nil, fmt.Errorf("save user: %w", err)
	}
	return saved, minted, nil
}

// AdjustNineumCount shifts the cached collection size after an out-of-band
// mint or transfer. The nineum store is the source of truth for contents.
func (s *Service) AdjustNineumCount(ctx context.Context, uuid string, delta int) (user.User, error) {
	u, err := s.users.GetUser(ctx, uuid)
	if err != nil {
		return user.User{}, err
	}
	u = s.reconcile(u)
	u.NineumCount += delta
	if u.NineumCount < 0 {
		u.NineumCount = 0
	}
	return s.saveReconciled(ctx, u)
}

// RewardShare credits a fraction of baseAmount, experience and token count
// each probability-rounded independently. Used for gateway cuts.
func (s *Service) RewardShare(ctx context.Context, uuid string, baseAmount int, share float64) (user.User, []string, error) {
	if baseAmount <= 0 || share <= 0 {
		u, err := s.GetUser(ctx, uuid)
		return u, nil, err
	}

	exp := s.ProbRound(float64(baseAmount) * share)
	quantity := s.ProbRound(float64(baseAmount) * share / float64(s.cfg.MPPerNineum))

	var minted []string
	if quantity > 0 && s.minter != nil {
		var err error
		minted, err = s.minter.Mint(ctx, uuid, quantity)
		if err != nil {
			return user.User{}, nil, fmt.Errorf("mint nineum: %w", err)
		}
	}

	u, err := s.users.GetUser(ctx, uuid)
	if err != nil {
		return user.User{}, nil, err
	}
	u = s.reconcile(u)
	u.ExperiencePool += exp
	u.NineumCount += len(minted)

	saved, err := s.users.SaveUser(ctx, u)
	if err != nil {
		return user.User{}, nil, fmt.Errorf("save user: %w", err)
	}
	return saved, minted, nil
}

// ProbRound rounds x down, then up with probability equal to the fractional
// remainder.
func (s *Service) ProbRound(x float64) int {
	whole := math.Floor(x)
	frac := x - whole
	n := int(whole)
	if frac > 0 && s.randFloat() < frac {
		n++
	}
	return n
}

// NineumQuantity converts an MP amount into a token count: the deterministic
// floor(amount/ratio) plus one more with probability equal to the fractional
// remainder.
func (s *Service) NineumQuantity(amount int) int {
	return s.ProbRound(float64(amount) / float64(s.cfg.MPPerNineum))
}

func (s *Service) mintFor(ctx context.Context, uuid string, amount int) ([]string, error) {
	quantity := s.NineumQuantity(amount)
	if quantity == 0 || s.minter == nil {
		return nil, nil
	}
	minted, err := s.minter.Mint(ctx, uuid, quantity)
	if err != nil {
		return nil, fmt.Errorf("mint nineum: %w", err)
	}
	return minted, nil
}

func (s *Service) randFloat() float64 {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Float64()
}

// reconcile applies MP regeneration and experience absorption up to now.
func (s *Service) reconcile(u user.User) user.User {
	now := s.now()

	if minutes := now.Sub(u.LastMPUsedAt).Minutes(); minutes > 0 {
		regen := int(math.Floor(minutes * s.cfg.RegenPerMinute))
		if regen > 0 {
			u.MP += regen
			if u.MP > u.MaxMP {
				u.MP = u.MaxMP
			}
			u.LastMPUsedAt = now
		}
	}

	if minutes := now.Sub(u.LastExperienceComputedAt).Minutes(); minutes > 0 {
		toAbsorb := int(math.Ceil(minutes * s.cfg.AbsorptionPerMin))
		if toAbsorb > u.ExperiencePool {
			toAbsorb = u.ExperiencePool
		}
		if toAbsorb > 0 {
			u.ExperiencePool -= toAbsorb
			u.Experience += toAbsorb
		}
		u.LastExperienceComputedAt = now
	}

	return u
}

func (s *Service) saveReconciled(ctx context.Context, u user.User) (user.User, error) {
	saved, err := s.users.SaveUser(ctx, u)
	if err != nil {
		return user.User{}, fmt.Errorf("save user: %w", err)
	}
	return saved, nil
}
