// Package spellbook manages the versioned routing table of spell
// definitions.
//
// The table is store-backed and mutated only through the validated append
// operation; source artifacts are never rewritten at runtime. A YAML seed
// file populates the store on first boot.
package spellbook

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/fount-network/fount/internal/app/domain/spellbook"
	"github.com/fount-network/fount/internal/app/storage"
	"github.com/fount-network/fount/internal/errors"
	"github.com/fount-network/fount/pkg/logger"
)

// Service owns spellbook reads and the append operation.
type Service struct {
	store   storage.SpellbookStore
	baseURL string
	log     *logger.Logger
}

// New constructs the spellbook service. baseURL, when set, overrides every
// destination host (local and dev deployments).
func New(store storage.SpellbookStore, baseURL string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("spellbook")
	}
	return &Service{store: store, baseURL: strings.TrimSpace(baseURL), log: log}
}

// SeedFromFile loads a YAML seed file into the store when the store has no
// book yet. A missing file is not an error; the book starts empty.
func (s *Service) SeedFromFile(ctx context.Context, path string) error {
	if _, err := s.store.LoadBook(ctx); err == nil {
		return nil
	}

	book := domain.Book{Spells: make(map[string]domain.Entry)}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				s.log.WithField("path", path).Warn("spellbook seed file not found; starting empty")
			} else {
				return fmt.Errorf("read spellbook seed: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &book); err != nil {
			return fmt.Errorf("parse spellbook seed: %w", err)
		}
	}

	for name, entry := range book.Spells {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("spellbook seed entry %s: %w", name, err)
		}
	}

	seeded, err := s.store.SeedBook(ctx, book)
	if err != nil {
		return fmt.Errorf("seed spellbook: %w", err)
	}
	s.log.WithFields(map[string]interface{}{
		"spells":  len(seeded.Spells),
		"version": seeded.Version,
	}).Info("spellbook seeded")
	return nil
}

// Lookup returns the entry for a spell name with destination URLs resolved.
func (s *Service) Lookup(ctx context.Context, name string) (domain.Entry, error) {
	book, err := s.store.LoadBook(ctx)
	if err != nil {
		return domain.Entry{}, err
	}

	entry, ok := book.Lookup(name)
	if !ok {
		return domain.Entry{}, errors.Validation(fmt.Sprintf("unknown spell %q", name))
	}
	return s.resolveURLs(entry), nil
}

// Book returns the full table with destination URLs resolved.
func (s *Service) Book(ctx context.Context) (domain.Book, error) {
	book, err := s.store.LoadBook(ctx)
	if err != nil {
		return domain.Book{}, err
	}
	for name, entry := range book.Spells {
		book.Spells[name] = s.resolveURLs(entry)
	}
	return book, nil
}

// AddSpell validates and appends a new entry. Duplicate names are rejected;
// the caller is responsible for the permission-tier gate.
func (s *Service) AddSpell(ctx context.Context, name string, entry domain.Entry) (domain.Book, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Book{}, errors.Validation("spell name is required")
	}
	if err := entry.Validate(); err != nil {
		return domain.Book{}, errors.Validation(err.Error())
	}

	book, err := s.store.AppendSpell(ctx, name, entry)
	if err != nil {
		if err == storage.ErrSpellExists {
			return domain.Book{}, errors.Validation(fmt.Sprintf("spell %q already registered", name))
		}
		return domain.Book{}, err
	}

	s.log.WithFields(map[string]interface{}{
		"spell":   name,
		"version": book.Version,
	}).Info("spell registered")
	return book, nil
}

// resolveURLs applies the base-URL override to every destination, pointing
// all stops at one host for local and dev deployments.
func (s *Service) resolveURLs(entry domain.Entry) domain.Entry {
	if s.baseURL == "" || len(entry.Destinations) == 0 {
		return entry
	}
	base := strings.TrimSuffix(s.baseURL, "/") + "/"
	dests := make([]domain.Destination, len(entry.Destinations))
	for i, d := range entry.Destinations {
		d.StopURL = base
		dests[i] = d
	}
	entry.Destinations = dests
	return entry
}
