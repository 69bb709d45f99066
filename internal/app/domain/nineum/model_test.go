package nineum

import (
	"testing"
	"time"
)

func TestNineum_RoundTrip(t *testing.T) {
	n := Nineum{
		Universe: "01",
		Galaxy:   "28880014",
		Flavor: Flavor{
			Charge:    "0a",
			Direction: "03",
			Rarity:    "02",
			Size:      "05",
			Texture:   "01",
			Shape:     "04",
		},
		Year:    "1a",
		Ordinal: 42,
	}

	id := n.String()
	if len(id) != Length {
		t.Fatalf("encoded length %d, want %d", len(id), Length)
	}

	parsed, err := Parse(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != n {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, n)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []string{
		"",
		"0128880014",
		"zz288800140a03020501041a0000002a",
		"0128880014 a03020501041a0000002a",
	}
	for _, id := range cases {
		if _, err := Parse(id); err == nil {
			t.Fatalf("expected parse failure for %q", id)
		}
	}
}

func TestParse_NormalisesCase(t *testing.T) {
	parsed, err := Parse("0128880014FF03020501041A0000002A")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Flavor.Charge != "ff" || parsed.Year != "1a" {
		t.Fatalf("identifier not lowercased: %+v", parsed)
	}
}

func TestPermissionTier_GrantTable(t *testing.T) {
	cases := []struct {
		tier   PermissionTier
		grants PermissionTier
	}{
		{TierGalactic, TierConstellation},
		{TierConstellation, TierScalar},
		{TierScalar, TierStellation},
		{TierStellation, TierWorld},
		{TierWorld, ""},
	}
	for _, tc := range cases {
		if got := tc.tier.Grants(); got != tc.grants {
			t.Fatalf("%s grants %q, want %q", tc.tier, got, tc.grants)
		}
	}
}

func TestPermissionTier_Ordering(t *testing.T) {
	order := []PermissionTier{TierWorld, TierStellation, TierScalar, TierConstellation, TierGalactic}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should outrank %s", order[i], order[i-1])
		}
	}
	if PermissionTier("01").Rank() != 0 {
		t.Fatalf("cosmetic rarity must not rank")
	}
}

func TestNineum_PermissionTier(t *testing.T) {
	withRarity := func(code string) Nineum {
		return Nineum{
			Universe: "01",
			Galaxy:   "28880014",
			Flavor:   Flavor{Charge: "01", Direction: "01", Rarity: code, Size: "01", Texture: "01", Shape: "01"},
			Year:     "1a",
			Ordinal:  1,
		}
	}
	if got := withRarity("ff").PermissionTier(); got != TierGalactic {
		t.Fatalf("ff should be galactic, got %q", got)
	}
	if got := withRarity("02").PermissionTier(); got != "" {
		t.Fatalf("cosmetic rarity should carry no tier, got %q", got)
	}
}

func TestYearCode(t *testing.T) {
	if got := YearCode(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)); got != "1a" {
		t.Fatalf("year code for 2026: %s", got)
	}
	if got := YearCode(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)); got != "00" {
		t.Fatalf("year code for 2000: %s", got)
	}
}

func TestParseFlavor_RoundTrip(t *testing.T) {
	f, err := ParseFlavor("0a03ff050104")
	if err != nil {
		t.Fatalf("parse flavor: %v", err)
	}
	if f.String() != "0a03ff050104" {
		t.Fatalf("flavor round trip: %s", f.String())
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := ParseFlavor("short"); err == nil {
		t.Fatalf("expected failure for short flavor")
	}
}
