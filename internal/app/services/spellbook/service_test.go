package spellbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	domain "github.com/fount-network/fount/internal/app/domain/spellbook"
	"github.com/fount-network/fount/internal/app/storage/memory"
	"github.com/fount-network/fount/internal/errors"
)

const seedYAML = `
version: 1
spells:
  join:
    cost: 0
    resolver: fount
    first_n_bootstrap: 64
    destinations:
      - stop_name: fount
        stop_url: http://localhost:3006/
  touch:
    cost: 40
    resolver: fount
    destinations:
      - stop_name: fount
        stop_url: http://localhost:3006/
      - stop_name: aretha
        stop_url: https://aretha.example.com/
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spellbook.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestSeedFromFile(t *testing.T) {
	svc := New(memory.New(), "", nil)

	if err := svc.SeedFromFile(context.Background(), writeSeed(t, seedYAML)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	entry, err := svc.Lookup(context.Background(), "touch")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry.Cost != 40 || len(entry.Destinations) != 2 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	join, err := svc.Lookup(context.Background(), "join")
	if err != nil {
		t.Fatalf("lookup join: %v", err)
	}
	if join.FirstNBootstrap != 64 {
		t.Fatalf("bootstrap cap should come from the seed, got %d", join.FirstNBootstrap)
	}
}

func TestSeedFromFileMissingPathStartsEmpty(t *testing.T) {
	svc := New(memory.New(), "", nil)

	if err := svc.SeedFromFile(context.Background(), filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing seed file should not fail boot: %v", err)
	}

	book, err := svc.Book(context.Background())
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if len(book.Spells) != 0 {
		t.Fatalf("expected empty book, got %v", book.Spells)
	}
}

func TestSeedFromFileIsIdempotent(t *testing.T) {
	store := memory.New()
	svc := New(store, "", nil)

	if err := svc.SeedFromFile(context.Background(), writeSeed(t, seedYAML)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Second boot with a different file keeps the stored book.
	other := writeSeed(t, "version: 1\nspells:\n  other:\n    cost: 1\n    resolver: fount\n")
	if err := svc.SeedFromFile(context.Background(), other); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if _, err := svc.Lookup(context.Background(), "other"); err == nil {
		t.Fatalf("reseed must not replace the stored book")
	}
}

func TestSeedFromFileRejectsInvalidEntry(t *testing.T) {
	svc := New(memory.New(), "", nil)

	bad := writeSeed(t, "spells:\n  broken:\n    cost: -1\n    resolver: fount\n")
	if err := svc.SeedFromFile(context.Background(), bad); err == nil {
		t.Fatalf("negative cost in the seed should fail")
	}
}

func TestAddSpell(t *testing.T) {
	svc := New(memory.New(), "", nil)
	if err := svc.SeedFromFile(context.Background(), writeSeed(t, seedYAML)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	entry := domain.Entry{
		Cost:         25,
		Resolver:     "fount",
		Destinations: []domain.Destination{{StopName: "fount", StopURL: "http://localhost:3006/"}},
	}
	book, err := svc.AddSpell(context.Background(), "ripple", entry)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if book.Version != 2 {
		t.Fatalf("append should bump the version, got %d", book.Version)
	}

	_, err = svc.AddSpell(context.Background(), "ripple", entry)
	svcErr := errors.GetServiceError(err)
	if svcErr == nil || svcErr.Code != errors.CodeValidation {
		t.Fatalf("duplicate spell should fail validation, got %v", err)
	}

	if _, err := svc.AddSpell(context.Background(), "  ", entry); err == nil {
		t.Fatalf("blank name should be rejected")
	}
	if _, err := svc.AddSpell(context.Background(), "hollow", domain.Entry{Cost: 1}); err == nil {
		t.Fatalf("missing resolver should be rejected")
	}
}

func TestBaseURLOverridesDestinations(t *testing.T) {
	svc := New(memory.New(), "http://localhost:3006", nil)
	if err := svc.SeedFromFile(context.Background(), writeSeed(t, seedYAML)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	entry, err := svc.Lookup(context.Background(), "touch")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	for _, d := range entry.Destinations {
		if d.StopURL != "http://localhost:3006/" {
			t.Fatalf("base URL should override every stop, got %q", d.StopURL)
		}
	}
	// Stop names survive the override so local-stop skipping still works.
	if entry.Destinations[1].StopName != "aretha" {
		t.Fatalf("stop names must be preserved, got %+v", entry.Destinations)
	}
}
