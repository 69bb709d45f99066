// Package nineum defines the nineum token identifier and its codec.
//
// A nineum is a fixed-width 32 hex character string:
//
//	universe(2) galaxy(8) flavor(12) year(2) ordinal(8)
//
// where flavor is six 2-character fields: charge, direction, rarity, size,
// texture, shape. Identifiers are immutable once minted; transfers move the
// identifier between collections, never mutate it.
package nineum

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultUniverse is the universe byte-pair minted by this service.
const DefaultUniverse = "01"

// Length is the fixed identifier width in hex characters.
const Length = 32

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// PermissionTier is one of the five reserved rarity codes carrying
// hierarchical authority. Higher tiers outrank lower ones.
type PermissionTier string

const (
	TierGalactic      PermissionTier = "ff"
	TierConstellation PermissionTier = "fe"
	TierScalar        PermissionTier = "fd"
	TierStellation    PermissionTier = "fc"
	TierWorld         PermissionTier = "fb"
)

// tierRank orders tiers from highest authority to lowest.
var tierRank = map[PermissionTier]int{
	TierGalactic:      5,
	TierConstellation: 4,
	TierScalar:        3,
	TierStellation:    2,
	TierWorld:         1,
}

// grantsTo is the fixed grant table: a tier may grant exactly the next tier
// down, never its own tier or higher. World grants nothing.
var grantsTo = map[PermissionTier]PermissionTier{
	TierGalactic:      TierConstellation,
	TierConstellation: TierScalar,
	TierScalar:        TierStellation,
	TierStellation:    TierWorld,
}

// IsPermissionTier reports whether code is one of the reserved rarity codes.
func IsPermissionTier(code string) bool {
	_, ok := tierRank[PermissionTier(code)]
	return ok
}

// Rank returns the tier's authority rank, 0 for unknown tiers.
func (t PermissionTier) Rank() int { return tierRank[t] }

// Grants returns the tier a holder of t may grant, or "" when t grants
// nothing (bottom of the hierarchy or not a permission tier).
func (t PermissionTier) Grants() PermissionTier { return grantsTo[t] }

// Valid reports whether t is one of the five reserved tiers.
func (t PermissionTier) Valid() bool { return tierRank[t] > 0 }

func (t PermissionTier) String() string {
	switch t {
	case TierGalactic:
		return "galactic"
	case TierConstellation:
		return "constellation"
	case TierScalar:
		return "scalar"
	case TierStellation:
		return "stellation"
	case TierWorld:
		return "world"
	}
	return "none"
}

// Flavor is the 12-character cosmetic and permission payload of a nineum.
type Flavor struct {
	Charge    string `json:"charge"`
	Direction string `json:"direction"`
	Rarity    string `json:"rarity"`
	Size      string `json:"size"`
	Texture   string `json:"texture"`
	Shape     string `json:"shape"`
}

// String renders the flavor as its 12 hex characters.
func (f Flavor) String() string {
	return f.Charge + f.Direction + f.Rarity + f.Size + f.Texture + f.Shape
}

// Validate checks each field is a 2-character lowercase hex pair.
func (f Flavor) Validate() error {
	for name, field := range map[string]string{
		"charge":    f.Charge,
		"direction": f.Direction,
		"rarity":    f.Rarity,
		"size":      f.Size,
		"texture":   f.Texture,
		"shape":     f.Shape,
	} {
		if len(field) != 2 || !hexPattern.MatchString(field) {
			return fmt.Errorf("flavor %s %q is not a 2-char hex pair", name, field)
		}
	}
	return nil
}

// ParseFlavor splits a 12 hex character flavor string.
func ParseFlavor(s string) (Flavor, error) {
	if len(s) != 12 || !hexPattern.MatchString(s) {
		return Flavor{}, fmt.Errorf("flavor %q must be 12 hex characters", s)
	}
	return Flavor{
		Charge:    s[0:2],
		Direction: s[2:4],
		Rarity:    s[4:6],
		Size:      s[6:8],
		Texture:   s[8:10],
		Shape:     s[10:12],
	}, nil
}

// Nineum is a decoded token identifier.
type Nineum struct {
	Universe string `json:"universe"`
	Galaxy   string `json:"galaxy"`
	Flavor   Flavor `json:"flavor"`
	Year     string `json:"year"`
	Ordinal  uint32 `json:"ordinal"`
}

// String encodes the nineum as its 32 hex character identifier.
func (n Nineum) String() string {
	return fmt.Sprintf("%s%s%s%s%08x", n.Universe, n.Galaxy, n.Flavor.String(), n.Year, n.Ordinal)
}

// PermissionTier returns the reserved tier carried by this nineum, or ""
// when its rarity is a cosmetic draw.
func (n Nineum) PermissionTier() PermissionTier {
	if IsPermissionTier(n.Flavor.Rarity) {
		return PermissionTier(n.Flavor.Rarity)
	}
	return ""
}

// Parse decodes a 32 hex character identifier.
func Parse(id string) (Nineum, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if len(id) != Length || !hexPattern.MatchString(id) {
		return Nineum{}, fmt.Errorf("nineum %q must be %d hex characters", id, Length)
	}

	flavor, err := ParseFlavor(id[10:22])
	if err != nil {
		return Nineum{}, err
	}

	ordinal, err := strconv.ParseUint(id[24:32], 16, 32)
	if err != nil {
		return Nineum{}, fmt.Errorf("nineum ordinal: %w", err)
	}

	return Nineum{
		Universe: id[0:2],
		Galaxy:   id[2:10],
		Flavor:   flavor,
		Year:     id[22:24],
		Ordinal:  uint32(ordinal),
	}, nil
}

// YearCode encodes the issue year as the hex of (year-2000) mod 256.
func YearCode(t time.Time) string {
	return fmt.Sprintf("%02x", (t.UTC().Year()-2000)%256)
}
