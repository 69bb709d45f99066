package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fount-network/fount/internal/app/services/economy"
	"github.com/fount-network/fount/internal/app/services/identity"
	nineumsvc "github.com/fount-network/fount/internal/app/services/nineum"
	"github.com/fount-network/fount/internal/app/services/payments"
	"github.com/fount-network/fount/internal/app/services/resolver"
	spellbooksvc "github.com/fount-network/fount/internal/app/services/spellbook"
	"github.com/fount-network/fount/internal/app/storage"
	"github.com/fount-network/fount/internal/app/storage/memory"
	"github.com/fount-network/fount/internal/app/system"
	"github.com/fount-network/fount/internal/config"
	"github.com/fount-network/fount/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users     storage.UserStore
	Nineum    storage.NineumStore
	Spellbook storage.SpellbookStore
}

// Application ties the fount services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Keys      identity.Keypair
	Economy   *economy.Service
	Nineum    *nineumsvc.Service
	Spellbook *spellbooksvc.Service
	Resolver  *resolver.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Nineum == nil {
		stores.Nineum = mem
	}
	if stores.Spellbook == nil {
		stores.Spellbook = mem
	}

	keys, err := serviceKeys(cfg, log)
	if err != nil {
		return nil, err
	}

	nineumService := nineumsvc.New(stores.Nineum, cfg.Economy.HomeGalaxy, log)

	var provider economy.PaymentProvider = payments.Disabled{}
	if cfg.Payments.URL != "" {
		httpProvider, err := payments.NewHTTPProvider(
			&http.Client{Timeout: cfg.Payments.Timeout},
			cfg.Payments.URL, cfg.Payments.APIKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure payments: %w", err)
		}
		provider = httpProvider
	} else {
		log.Warn("payments URL not set; currency spells will be declined")
	}

	economyService := economy.New(stores.Users, nineumService, provider, cfg.Economy, log)
	spellbookService := spellbooksvc.New(stores.Spellbook, cfg.Spellbook.BaseURL, log)
	forwarder := resolver.NewForwarder(nil, cfg.Spellbook.LocalStop, log)
	resolverService := resolver.New(stores.Users, economyService, nineumService,
		spellbookService, forwarder, cfg.Economy, keys, log)

	manager := system.NewManager()
	for _, name := range []string{"economy", "nineum", "spellbook", "resolver"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Keys:      keys,
		Economy:   economyService,
		Nineum:    nineumService,
		Spellbook: spellbookService,
		Resolver:  resolverService,
	}, nil
}

// serviceKeys derives the service identity from the configured master seed,
// or generates an ephemeral one when no seed is set.
func serviceKeys(cfg *config.Config, log *logger.Logger) (identity.Keypair, error) {
	if cfg.Auth.MasterSeed != "" {
		keys, err := identity.DeriveKeypair([]byte(cfg.Auth.MasterSeed), cfg.Auth.KeyVersion)
		if err != nil {
			return identity.Keypair{}, fmt.Errorf("derive service keys: %w", err)
		}
		return keys, nil
	}

	log.Warn("master seed not set; using ephemeral service keys")
	keys, err := identity.GenerateKeypair()
	if err != nil {
		return identity.Keypair{}, fmt.Errorf("generate service keys: %w", err)
	}
	return keys, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
