// Package nineum is the token engine: it mints syntactically valid nineum
// identifiers, applies the weighted rarity draw and tracks per-flavor
// issuance counts through the persistence store.
package nineum

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/fount-network/fount/internal/app/domain/nineum"
	"github.com/fount-network/fount/internal/app/storage"
	"github.com/fount-network/fount/internal/errors"
	"github.com/fount-network/fount/pkg/logger"
)

// rarityWeight pairs a cosmetic rarity code with its draw weight. The table
// replaces a rejection-sampling loop with one cumulative draw; weights are
// strictly non-increasing as rarity increases, so the resulting distribution
// keeps the monotone contract.
type rarityWeight struct {
	code   string
	weight int
}

var rarityTable = []rarityWeight{
	{"01", 512}, // common
	{"02", 128}, // nincommon
	{"03", 64},  // rare
	{"04", 16},  // epic
	{"05", 4},   // legendary
	{"06", 1},   // mythical
}

// Uniform draws for the remaining cosmetic fields.
var (
	chargeCodes    = []string{"01", "02"}
	directionCodes = []string{"01", "02", "03", "04", "05", "06"}
	sizeCodes      = []string{"01", "02", "03", "04", "05", "06"}
	textureCodes   = []string{"01", "02", "03", "04", "05", "06"}
	shapeCodes     = []string{"01", "02", "03", "04", "05", "06"}
)

// FlavorSpec is a partially specified flavor: empty fields are drawn
// randomly at mint time.
type FlavorSpec struct {
	Charge    string `json:"charge,omitempty"`
	Direction string `json:"direction,omitempty"`
	Rarity    string `json:"rarity,omitempty"`
	Size      string `json:"size,omitempty"`
	Texture   string `json:"texture,omitempty"`
	Shape     string `json:"shape,omitempty"`
}

// Service is the token engine.
type Service struct {
	store      storage.NineumStore
	homeGalaxy string
	log        *logger.Logger

	now func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	totalWeight int
}

// New constructs the token engine minting into homeGalaxy by default.
func New(store storage.NineumStore, homeGalaxy string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("nineum")
	}
	total := 0
	for _, rw := range rarityTable {
		total += rw.weight
	}
	return &Service{
		store:       store,
		homeGalaxy:  normalizeGalaxy(homeGalaxy),
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		totalWeight: total,
	}
}

// WithRand overrides the randomness source; intended for tests.
func (s *Service) WithRand(r *rand.Rand) *Service {
	s.rand = r
	return s
}

// WithClock overrides the time source; intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Mint issues quantity cosmetic nineum in the home galaxy into ownerUUID's
// collection. Each identifier gets an independently drawn flavor.
func (s *Service) Mint(ctx context.Context, ownerUUID string, quantity int) ([]string, error) {
	if quantity <= 0 {
		return nil, nil
	}

	ids := make([]string, 0, quantity)
	for i := 0; i < quantity; i++ {
		minted, err := s.Construct(ctx, s.homeGalaxy)
		if err != nil {
			return nil, err
		}
		ids = append(ids, minted)
	}

	if err := s.store.AddNineum(ctx, ownerUUID, ids); err != nil {
		return nil, fmt.Errorf("add nineum: %w", err)
	}
	return ids, nil
}

// Construct mints one cosmetic nineum identifier in galaxy. The per-flavor
// ordinal comes from the store's atomic counter.
func (s *Service) Construct(ctx context.Context, galaxy string) (string, error) {
	flavor := s.drawFlavor()
	return s.construct(ctx, galaxy, flavor)
}

// ConstructPermission mints a nineum carrying the reserved rarity byte for
// tier; the cosmetic sub-fields are still drawn for flavor.
func (s *Service) ConstructPermission(ctx context.Context, galaxy string, tier domain.PermissionTier) (string, error) {
	if !tier.Valid() {
		return "", errors.Validation(fmt.Sprintf("unknown permission tier %q", tier))
	}
	flavor := s.drawFlavor()
	flavor.Rarity = string(tier)
	return s.construct(ctx, galaxy, flavor)
}

// ConstructFlavorBatch mints quantity identifiers sharing one flavor:
// specified fields are kept, unspecified fields drawn once, and the ordinal
// suffix increases across the batch.
func (s *Service) ConstructFlavorBatch(ctx context.Context, galaxy string, spec FlavorSpec, quantity int) ([]string, error) {
	if quantity <= 0 {
		return nil, errors.Validation("quantity must be positive")
	}

	drawn := s.drawFlavor()
	flavor := domain.Flavor{
		Charge:    pick(spec.Charge, drawn.Charge),
		Direction: pick(spec.Direction, drawn.Direction),
		Rarity:    pick(spec.Rarity, drawn.Rarity),
		Size:      pick(spec.Size, drawn.Size),
		Texture:   pick(spec.Texture, drawn.Texture),
		Shape:     pick(spec.Shape, drawn.Shape),
	}
	if err := flavor.Validate(); err != nil {
		return nil, errors.Validation(err.Error())
	}

	galaxy = normalizeGalaxy(galaxy)
	start, err := s.store.IncrementFlavorCount(ctx, flavor.String(), uint32(quantity))
	if err != nil {
		return nil, err
	}

	year := domain.YearCode(s.now())
	ids := make([]string, quantity)
	for i := 0; i < quantity; i++ {
		n := domain.Nineum{
			Universe: domain.DefaultUniverse,
			Galaxy:   galaxy,
			Flavor:   flavor,
			Year:     year,
			Ordinal:  start + uint32(i) + 1,
		}
		ids[i] = n.String()
	}
	return ids, nil
}

// MintFlavorBatch mints a batch of one shared flavor into ownerUUID's
// collection.
func (s *Service) MintFlavorBatch(ctx context.Context, ownerUUID, galaxy string, spec FlavorSpec, quantity int) ([]string, error) {
	ids, err := s.ConstructFlavorBatch(ctx, galaxy, spec, quantity)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddNineum(ctx, ownerUUID, ids); err != nil {
		return nil, fmt.Errorf("add nineum: %w", err)
	}
	return ids, nil
}

// Purge drops a user's entire collection. Used when the user is deleted.
func (s *Service) Purge(ctx context.Context, uuid string) error {
	return s.store.DeleteNineum(ctx, uuid)
}

// Transfer moves identifiers between users' collections. Identifiers are
// validated but never mutated.
func (s *Service) Transfer(ctx context.Context, fromUUID, toUUID string, ids []string) error {
	if len(ids) == 0 {
		return errors.Validation("no nineum to transfer")
	}
	for _, id := range ids {
		if _, err := domain.Parse(id); err != nil {
			return errors.Validation(err.Error())
		}
	}
	return s.store.TransferNineum(ctx, fromUUID, toUUID, ids)
}

// List returns the user's collection sorted for stable output.
func (s *Service) List(ctx context.Context, uuid string) ([]string, error) {
	ids, err := s.store.ListNineum(ctx, uuid)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// HighestTier returns the highest permission tier held in the user's
// collection, or "" when none.
func (s *Service) HighestTier(ctx context.Context, uuid string) (domain.PermissionTier, error) {
	ids, err := s.store.ListNineum(ctx, uuid)
	if err != nil {
		return "", err
	}

	var highest domain.PermissionTier
	for _, id := range ids {
		n, err := domain.Parse(id)
		if err != nil {
			continue
		}
		if tier := n.PermissionTier(); tier.Rank() > highest.Rank() {
			highest = tier
		}
	}
	return highest, nil
}

// HasFlavorMatch reports whether the user holds a nineum matching the
// (system, galaxy, flavor) triple. Empty triple fields match anything.
func (s *Service) HasFlavorMatch(ctx context.Context, uuid, system, galaxy, flavor string) (bool, error) {
	ids, err := s.store.ListNineum(ctx, uuid)
	if err != nil {
		return false, err
	}

	system = strings.ToLower(strings.TrimSpace(system))
	galaxy = normalizeGalaxy(galaxy)
	flavor = strings.ToLower(strings.TrimSpace(flavor))

	for _, id := range ids {
		n, err := domain.Parse(id)
		if err != nil {
			continue
		}
		if system != "" && n.Universe != system {
			continue
		}
		if galaxy != "" && n.Galaxy != galaxy {
			continue
		}
		if flavor != "" && n.Flavor.String() != flavor {
			continue
		}
		return true, nil
	}
	return false, nil
}

// GrantPermission mints a permission nineum of tier into recipientUUID's
// collection, enforcing the fixed hierarchy: the granter's highest held
// tier must grant exactly the requested tier.
func (s *Service) GrantPermission(ctx context.Context, granterUUID, recipientUUID, galaxy string, tier domain.PermissionTier) (string, error) {
	if !tier.Valid() {
		return "", errors.Validation(fmt.Sprintf("unknown permission tier %q", tier))
	}

	held, err := s.HighestTier(ctx, granterUUID)
	if err != nil {
		return "", err
	}
	if held == "" {
		return "", errors.Economic(errors.EconomicNineum, "granter holds no permission nineum", 0, 0)
	}
	if held.Grants() != tier {
		return "", errors.Unauthorized(fmt.Sprintf("%s tier may only grant %s", held, held.Grants()))
	}

	id, err := s.ConstructPermission(ctx, galaxy, tier)
	if err != nil {
		return "", err
	}
	if err := s.store.AddNineum(ctx, recipientUUID, []string{id}); err != nil {
		return "", fmt.Errorf("add nineum: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"granter":   granterUUID,
		"recipient": recipientUUID,
		"tier":      tier.String(),
	}).Info("permission nineum granted")
	return id, nil
}

// ClaimGalaxy records first-writer-wins ownership of a galaxy and mints the
// claimant a galactic-tier nineum in it.
func (s *Service) ClaimGalaxy(ctx context.Context, galaxyID, ownerUUID string) (string, error) {
	galaxyID = normalizeGalaxy(galaxyID)
	if len(galaxyID) != 8 {
		return "", errors.Validation("galaxy must be 8 hex characters")
	}

	if err := s.store.ClaimGalaxy(ctx, galaxyID, ownerUUID); err != nil {
		return "", err
	}

	id, err := s.ConstructPermission(ctx, galaxyID, domain.TierGalactic)
	if err != nil {
		return "", err
	}
	if err := s.store.AddNineum(ctx, ownerUUID, []string{id}); err != nil {
		return "", fmt.Errorf("add nineum: %w", err)
	}
	return id, nil
}

// ClaimBootstrap mints an early-adopter galactic-tier nineum in the home
// galaxy. Callers gate it behind the bootstrap slot counter.
func (s *Service) ClaimBootstrap(ctx context.Context, ownerUUID string) (string, error) {
	id, err := s.ConstructPermission(ctx, s.homeGalaxy, domain.TierGalactic)
	if err != nil {
		return "", err
	}
	if err := s.store.AddNineum(ctx, ownerUUID, []string{id}); err != nil {
		return "", fmt.Errorf("add nineum: %w", err)
	}
	s.log.WithField("owner", ownerUUID).Info("bootstrap nineum claimed")
	return id, nil
}

// NextBootstrapSlot advances the atomic per-spell counter used to cap
// first-N grants.
func (s *Service) NextBootstrapSlot(ctx context.Context, spellName string) (int, error) {
	return s.store.NextBootstrapSlot(ctx, spellName)
}

// HomeGalaxy returns the galaxy this service mints into by default.
func (s *Service) HomeGalaxy() string { return s.homeGalaxy }

func (s *Service) construct(ctx context.Context, galaxy string, flavor domain.Flavor) (string, error) {
	galaxy = normalizeGalaxy(galaxy)
	if galaxy == "" {
		galaxy = s.homeGalaxy
	}

	start, err := s.store.IncrementFlavorCount(ctx, flavor.String(), 1)
	if err != nil {
		return "", err
	}

	n := domain.Nineum{
		Universe: domain.DefaultUniverse,
		Galaxy:   galaxy,
		Flavor:   flavor,
		Year:     domain.YearCode(s.now()),
		Ordinal:  start + 1,
	}
	return n.String(), nil
}

// drawFlavor draws each cosmetic field; rarity via the cumulative table.
func (s *Service) drawFlavor() domain.Flavor {
	s.randMu.Lock()
	defer s.randMu.Unlock()

	return domain.Flavor{
		Charge:    chargeCodes[s.rand.Intn(len(chargeCodes))],
		Direction: directionCodes[s.rand.Intn(len(directionCodes))],
		Rarity:    s.drawRarityLocked(),
		Size:      sizeCodes[s.rand.Intn(len(sizeCodes))],
		Texture:   textureCodes[s.rand.Intn(len(textureCodes))],
		Shape:     shapeCodes[s.rand.Intn(len(shapeCodes))],
	}
}

func (s *Service) drawRarityLocked() string {
	draw := s.rand.Intn(s.totalWeight)
	for _, rw := range rarityTable {
		if draw < rw.weight {
			return rw.code
		}
		draw -= rw.weight
	}
	return rarityTable[0].code
}

func pick(specified, drawn string) string {
	specified = strings.ToLower(strings.TrimSpace(specified))
	if specified == "" {
		return drawn
	}
	return specified
}

func normalizeGalaxy(galaxy string) string {
	return strings.ToLower(strings.TrimSpace(galaxy))
}
