// Package user defines the persistent user record owned by the economy
// engine.
package user

import "time"

// User is the economy engine's view of a caster. The record is mutated only
// through the economy service's accessors; Ordinal increments on every save
// and doubles as the replay-protection nonce for signed spell requests.
type User struct {
	UUID                     string    `json:"uuid"`
	PublicKey                string    `json:"pubKey"`
	MP                       int       `json:"mp"`
	MaxMP                    int       `json:"maxMP"`
	LastMPUsedAt             time.Time `json:"lastMPUsedAt"`
	Experience               int       `json:"experience"`
	ExperiencePool           int       `json:"experiencePool"`
	LastExperienceComputedAt time.Time `json:"lastExperienceComputedAt"`
	NineumCount              int       `json:"nineumCount"`
	Ordinal                  uint64    `json:"ordinal"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}
