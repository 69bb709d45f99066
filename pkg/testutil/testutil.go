// Package testutil provides signing helpers shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/fount-network/fount/internal/app/domain/spell"
	"github.com/fount-network/fount/internal/app/services/identity"
)

// Caster holds a keypair for building signed spell requests in tests.
type Caster struct {
	UUID string
	Keys identity.Keypair
}

// NewCaster generates a caster with a fresh keypair.
func NewCaster(t *testing.T) *Caster {
	t.Helper()
	keys, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return &Caster{UUID: identity.GenerateID(), Keys: keys}
}

// SignedRequest builds a fully signed spell request for the caster's
// current ordinal.
func (c *Caster) SignedRequest(t *testing.T, spellName string, cost int, ordinal uint64) spell.Request {
	t.Helper()
	req := spell.Request{
		SpellName:        spellName,
		CasterUUID:       c.UUID,
		Timestamp:        time.Now().UnixMilli(),
		TotalCost:        cost,
		UsesResourcePool: true,
		Ordinal:          ordinal,
	}
	sig, err := identity.Sign(req.CasterMessage(), c.Keys.PrivateKey)
	if err != nil {
		t.Fatalf("sign request: %v", err)
	}
	req.CasterSignature = sig
	return req
}

// SignGateway co-signs a gateway entry in place.
func (c *Caster) SignGateway(t *testing.T, gw *spell.Gateway) {
	t.Helper()
	gw.UUID = c.UUID
	sig, err := identity.Sign(gw.Message(), c.Keys.PrivateKey)
	if err != nil {
		t.Fatalf("sign gateway: %v", err)
	}
	gw.Signature = sig
}

// Sign signs an arbitrary canonical message with the caster's key.
func (c *Caster) Sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := identity.Sign(message, c.Keys.PrivateKey)
	if err != nil {
		t.Fatalf("sign message: %v", err)
	}
	return sig
}
