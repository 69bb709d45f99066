// Package resolver orchestrates spell resolution: it validates the signed
// request, enforces economic and permission preconditions, forwards the
// spell to peer destinations, runs special-case spell handlers and
// distributes post-hoc rewards.
package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	domainnineum "github.com/fount-network/fount/internal/app/domain/nineum"
	"github.com/fount-network/fount/internal/app/domain/spell"
	domainbook "github.com/fount-network/fount/internal/app/domain/spellbook"
	"github.com/fount-network/fount/internal/app/metrics"
	"github.com/fount-network/fount/internal/app/services/economy"
	"github.com/fount-network/fount/internal/app/services/identity"
	nineumsvc "github.com/fount-network/fount/internal/app/services/nineum"
	spellbooksvc "github.com/fount-network/fount/internal/app/services/spellbook"
	"github.com/fount-network/fount/internal/app/storage"
	"github.com/fount-network/fount/internal/config"
	"github.com/fount-network/fount/internal/errors"
	"github.com/fount-network/fount/pkg/logger"
)

// Spell names with dedicated handling after the preconditions pass.
const (
	SpellJoin        = "join"
	SpellGrantNineum = "grantNineum"
	SpellGrantGalaxy = "grantGalaxy"
	SpellAddSpell    = "addSpell"
)

// minAddSpellTier is the lowest permission tier allowed to mutate the
// spellbook.
const minAddSpellTier = domainnineum.TierScalar

// Service is the spell resolution engine.
type Service struct {
	users     storage.UserStore
	economy   *economy.Service
	nineum    *nineumsvc.Service
	book      *spellbooksvc.Service
	forwarder *Forwarder
	cfg       config.EconomyConfig
	keys      identity.Keypair
	log       *logger.Logger

	now func() time.Time
}

// New constructs the resolution engine. keys is the service's own identity
// used to countersign resolved spells.
func New(users storage.UserStore, eco *economy.Service, nin *nineumsvc.Service, book *spellbooksvc.Service, fwd *Forwarder, cfg config.EconomyConfig, keys identity.Keypair, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("resolver")
	}
	return &Service{
		users:     users,
		economy:   eco,
		nineum:    nin,
		book:      book,
		forwarder: fwd,
		cfg:       cfg,
		keys:      keys,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source; intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Resolve runs the full pipeline for one spell request. Unexpected failures
// never propagate: they degrade to a structured {success:false} carried by
// an internal ServiceError.
func (s *Service) Resolve(ctx context.Context, spellName string, req spell.Request) (resp spell.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("spell resolution panicked")
			resp = spell.Response{Success: false}
			err = errors.Internal("spell failed", fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			metrics.SpellRejected(spellName)
		} else {
			metrics.SpellResolved(spellName, resp.Success)
		}
	}()

	req.SpellName = spellName

	entry, err := s.book.Lookup(ctx, spellName)
	if err != nil {
		return spell.Response{Success: false}, err
	}

	// Step 1: time-skew gate.
	if skew := s.now().Sub(req.Time()); skew > s.cfg.TimeSkewTolerance || skew < -s.cfg.TimeSkewTolerance {
		return spell.Response{Success: false}, errors.Unauthorized("spell timestamp outside acceptable window")
	}

	sigMap := make(map[string]string)

	// Step 2: gateway verification. A failed gateway flags the request
	// unresolved but the walk continues through the remaining entries, so
	// every bad hop is reported at once.
	var badGateways []string
	for _, gw := range req.Gateways {
		if !s.verifyGateway(ctx, gw) {
			badGateways = append(badGateways, gw.UUID)
			continue
		}
		if req.TotalCost < gw.MinimumCost {
			badGateways = append(badGateways, gw.UUID)
			continue
		}
		sigMap[gw.UUID] = gw.Signature
	}
	if len(badGateways) > 0 {
		return spell.Response{Success: false},
			errors.Unauthorized(fmt.Sprintf("gateway verification failed: %s", strings.Join(badGateways, ", ")))
	}

	// Step 3: caster signature.
	caster, err := s.users.GetUser(ctx, req.CasterUUID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return spell.Response{Success: false}, errors.Unauthorized("unknown caster")
		}
		return spell.Response{Success: false}, errors.Internal("load caster", err)
	}
	if !identity.Verify(req.CasterSignature, req.CasterMessage(), caster.PublicKey) {
		return spell.Response{Success: false}, errors.Unauthorized("caster signature invalid")
	}
	sigMap[req.CasterUUID] = req.CasterSignature

	// Replay protection: consume the presented ordinal atomically.
	consumed, err := s.users.ConsumeOrdinal(ctx, req.CasterUUID, req.Ordinal)
	if err != nil {
		return spell.Response{Success: false}, errors.Internal("consume ordinal", err)
	}
	if !consumed {
		return spell.Response{Success: false}, errors.Unauthorized("ordinal already used")
	}

	// Step 5 precedes the debit: preconditions are pure checks, the debit
	// is the first side effect.
	if entry.RequiredNineum != nil {
		has, err := s.nineum.HasFlavorMatch(ctx, req.CasterUUID,
			entry.RequiredNineum.System, entry.RequiredNineum.Galaxy, entry.RequiredNineum.Flavor)
		if err != nil {
			return spell.Response{Success: false}, errors.Internal("check required nineum", err)
		}
		if !has {
			return spell.Response{Success: false},
				errors.Economic(errors.EconomicNineum, "missing required nineum for "+spellName, 1, 0)
		}
	}

	// Step 4: economic precondition.
	if req.UsesResourcePool {
		if _, _, err := s.economy.SpendMP(ctx, req.CasterUUID, req.TotalCost); err != nil {
			return spell.Response{Success: false}, err
		}
		metrics.MPSpent(req.TotalCost)
	} else {
		paid, err := s.economy.SpendCurrency(ctx, req.CasterUUID, req.TotalCost)
		if err != nil {
			return spell.Response{Success: false}, err
		}
		if !paid {
			return spell.Response{Success: false},
				errors.Economic(errors.EconomicCurrency, "payment declined", float64(req.TotalCost), 0)
		}
	}

	// Step 6: best-effort fan-out.
	merged, forwardOK := s.forwarder.Forward(ctx, req, entry.Destinations)
	if !forwardOK {
		metrics.ForwardingError(spellName)
	}

	// Step 7: special-case spell handling.
	if err := s.handleSpecial(ctx, spellName, entry, req, merged); err != nil {
		return spell.Response{Success: false, SignatureMap: sigMap, Merged: merged}, err
	}

	// Step 8: reward distribution, post-success only.
	if forwardOK {
		if err := s.distributeRewards(ctx, req); err != nil {
			s.log.WithError(err).Warn("reward distribution failed")
		}
	}

	if sig, err := identity.Sign(req.CasterMessage(), s.keys.PrivateKey); err == nil {
		sigMap["fount"] = sig
	}

	return spell.Response{Success: forwardOK, SignatureMap: sigMap, Merged: merged}, nil
}

// verifyGateway checks one gateway co-signature against its stored key.
func (s *Service) verifyGateway(ctx context.Context, gw spell.Gateway) bool {
	if strings.TrimSpace(gw.Signature) == "" {
		return false
	}
	u, err := s.users.GetUser(ctx, gw.UUID)
	if err != nil {
		return false
	}
	return identity.Verify(gw.Signature, gw.Message(), u.PublicKey)
}

// handleSpecial runs the named-spell side effects after preconditions pass.
func (s *Service) handleSpecial(ctx context.Context, name string, entry domainbook.Entry, req spell.Request, merged map[string]interface{}) error {
	switch name {
	case SpellJoin:
		return s.handleJoin(ctx, entry, req, merged)
	case SpellGrantNineum:
		return s.handleGrantNineum(ctx, req, merged)
	case SpellGrantGalaxy:
		return s.handleGrantGalaxy(ctx, req, merged)
	case SpellAddSpell:
		return s.handleAddSpell(ctx, req, merged)
	}
	return nil
}

// handleJoin grants a bootstrap permission nineum to the first N casters,
// capped through the store's atomic slot counter so concurrent joins cannot
// exceed the cap.
func (s *Service) handleJoin(ctx context.Context, entry domainbook.Entry, req spell.Request, merged map[string]interface{}) error {
	limit := entry.FirstNBootstrap
	if limit == 0 {
		limit = s.cfg.JoinBootstrapCount
	}
	if limit <= 0 {
		return nil
	}

	slot, err := s.nineum.NextBootstrapSlot(ctx, SpellJoin)
	if err != nil {
		return errors.Internal("bootstrap slot", err)
	}
	if slot > limit {
		return nil
	}

	id, err := s.nineum.ClaimBootstrap(ctx, req.CasterUUID)
	if err != nil {
		return err
	}
	merged["bootstrapNineum"] = id
	merged["bootstrapSlot"] = slot
	return nil
}

func (s *Service) handleGrantNineum(ctx context.Context, req spell.Request, merged map[string]interface{}) error {
	recipient, ok := stringComponent(req.Components, "recipientUUID")
	if !ok {
		return errors.Validation("grantNineum requires recipientUUID component")
	}
	tierStr, ok := stringComponent(req.Components, "tier")
	if !ok {
		return errors.Validation("grantNineum requires tier component")
	}
	galaxy, _ := stringComponent(req.Components, "galaxy")
	if galaxy == "" {
		galaxy = s.nineum.HomeGalaxy()
	}

	if _, err := s.users.GetUser(ctx, recipient); err != nil {
		return errors.Validation("unknown recipient")
	}

	id, err := s.nineum.GrantPermission(ctx, req.CasterUUID, recipient, galaxy, domainnineum.PermissionTier(tierStr))
	if err != nil {
		return err
	}
	merged["grantedNineum"] = id
	return nil
}

func (s *Service) handleGrantGalaxy(ctx context.Context, req spell.Request, merged map[string]interface{}) error {
	galaxy, ok := stringComponent(req.Components, "galaxy")
	if !ok {
		return errors.Validation("grantGalaxy requires galaxy component")
	}

	id, err := s.nineum.ClaimGalaxy(ctx, galaxy, req.CasterUUID)
	if err != nil {
		if stderrors.Is(err, storage.ErrGalaxyClaimed) {
			return errors.Validation("Galaxy is already claimed")
		}
		return err
	}
	merged["galacticNineum"] = id
	merged["galaxy"] = strings.ToLower(galaxy)
	return nil
}

func (s *Service) handleAddSpell(ctx context.Context, req spell.Request, merged map[string]interface{}) error {
	held, err := s.nineum.HighestTier(ctx, req.CasterUUID)
	if err != nil {
		return errors.Internal("check permission tier", err)
	}
	if held.Rank() < minAddSpellTier.Rank() {
		return errors.Unauthorized(fmt.Sprintf("addSpell requires at least %s tier", minAddSpellTier))
	}

	name, ok := stringComponent(req.Components, "name")
	if !ok {
		return errors.Validation("addSpell requires name component")
	}

	entry, err := entryFromComponents(req.Components)
	if err != nil {
		return err
	}

	book, err := s.book.AddSpell(ctx, name, entry)
	if err != nil {
		return err
	}
	merged["spellbookVersion"] = book.Version
	return nil
}

// distributeRewards credits the caster 1:1 experience plus ratio-minted
// nineum, and each gateway its configured share of both, independently
// probability-rounded.
func (s *Service) distributeRewards(ctx context.Context, req spell.Request) error {
	if req.TotalCost <= 0 {
		return nil
	}

	if _, minted, err := s.economy.Reward(ctx, req.CasterUUID, req.TotalCost); err != nil {
		return fmt.Errorf("caster reward: %w", err)
	} else if len(minted) > 0 {
		metrics.NineumMinted(len(minted))
	}

	for _, gw := range req.Gateways {
		if _, minted, err := s.economy.RewardShare(ctx, gw.UUID, req.TotalCost, s.cfg.GatewayRewardShare); err != nil {
			s.log.WithError(err).WithField("gateway", gw.UUID).Warn("gateway reward failed")
		} else if len(minted) > 0 {
			metrics.NineumMinted(len(minted))
		}
	}
	return nil
}

func stringComponent(components map[string]interface{}, key string) (string, bool) {
	if components == nil {
		return "", false
	}
	v, ok := components[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok || strings.TrimSpace(str) == "" {
		return "", false
	}
	return strings.TrimSpace(str), true
}

// entryFromComponents builds a spellbook entry from untrusted components,
// validating required fields before any side effect.
func entryFromComponents(components map[string]interface{}) (domainbook.Entry, error) {
	cost, ok := numberComponent(components, "cost")
	if !ok {
		return domainbook.Entry{}, errors.Validation("addSpell requires cost component")
	}
	resolver, ok := stringComponent(components, "resolver")
	if !ok {
		return domainbook.Entry{}, errors.Validation("addSpell requires resolver component")
	}

	entry := domainbook.Entry{Cost: cost, Resolver: resolver}

	rawDests, ok := components["destinations"].([]interface{})
	if !ok || len(rawDests) == 0 {
		return domainbook.Entry{}, errors.Validation("addSpell requires destinations component")
	}
	for i, raw := range rawDests {
		destMap, ok := raw.(map[string]interface{})
		if !ok {
			return domainbook.Entry{}, errors.Validation(fmt.Sprintf("destination %d is malformed", i))
		}
		stopName, _ := destMap["stopName"].(string)
		stopURL, _ := destMap["stopURL"].(string)
		if strings.TrimSpace(stopName) == "" || strings.TrimSpace(stopURL) == "" {
			return domainbook.Entry{}, errors.Validation(fmt.Sprintf("destination %d needs stopName and stopURL", i))
		}
		entry.Destinations = append(entry.Destinations, domainbook.Destination{StopName: stopName, StopURL: stopURL})
	}

	return entry, nil
}

func numberComponent(components map[string]interface{}, key string) (int, bool) {
	if components == nil {
		return 0, false
	}
	switch v := components[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
