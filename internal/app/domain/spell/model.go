// Package spell defines the signed spell request envelope and its canonical
// signing messages.
package spell

import (
	"fmt"
	"time"
)

// Gateway is an intermediary that co-signed the spell while relaying it and
// earns a share of the reward.
type Gateway struct {
	UUID        string `json:"uuid"`
	Timestamp   int64  `json:"timestamp"`
	MinimumCost int    `json:"minimumCost"`
	Ordinal     uint64 `json:"ordinal"`
	Signature   string `json:"signature"`
}

// Request is a signed, priced, named request. A request is single-use:
// Ordinal must match the caster's current stored ordinal.
type Request struct {
	SpellName        string                 `json:"spell"`
	CasterUUID       string                 `json:"casterUUID"`
	Timestamp        int64                  `json:"timestamp"`
	TotalCost        int                    `json:"totalCost"`
	UsesResourcePool bool                   `json:"mp"`
	Ordinal          uint64                 `json:"ordinal"`
	CasterSignature  string                 `json:"casterSignature"`
	Components       map[string]interface{} `json:"components,omitempty"`
	Gateways         []Gateway              `json:"gateways,omitempty"`
}

// CasterMessage is the canonical string the caster signs. Field order is
// fixed; any deviation fails verification.
func (r Request) CasterMessage() string {
	return fmt.Sprintf("%d%s%s%d%t%d",
		r.Timestamp, r.SpellName, r.CasterUUID, r.TotalCost, r.UsesResourcePool, r.Ordinal)
}

// Message is the canonical string a gateway signs.
func (g Gateway) Message() string {
	return fmt.Sprintf("%d%s%d%d", g.Timestamp, g.UUID, g.MinimumCost, g.Ordinal)
}

// Time returns the request timestamp as a time.Time.
func (r Request) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Response is the resolution outcome returned to the client. Merged carries
// the shallow-merged destination payloads and is flattened into the JSON
// body alongside Success and SignatureMap by the HTTP layer.
type Response struct {
	Success      bool                   `json:"success"`
	SignatureMap map[string]string      `json:"signatureMap,omitempty"`
	Merged       map[string]interface{} `json:"-"`
}
