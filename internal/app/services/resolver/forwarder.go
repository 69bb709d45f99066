package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fount-network/fount/internal/app/domain/spell"
	"github.com/fount-network/fount/internal/app/domain/spellbook"
	"github.com/fount-network/fount/pkg/logger"
)

const maxForwardBody = 8 << 20

// Forwarder issues the spell payload to each destination peer and merges
// the responses. Fan-out is best-effort: a destination error is recorded
// into the merged response and marks the result unsuccessful, but the
// remaining destinations are still attempted.
type Forwarder struct {
	client    *http.Client
	localStop string
	log       *logger.Logger
}

// NewForwarder builds a forwarder that skips the destination named
// localStop (the service itself).
func NewForwarder(client *http.Client, localStop string, log *logger.Logger) *Forwarder {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("forwarder")
	}
	return &Forwarder{client: client, localStop: localStop, log: log}
}

// Forward posts the spell envelope to stopURL + spellName for every
// destination except the local service, shallow-merging the JSON
// responses. It returns the merge and whether every destination succeeded.
func (f *Forwarder) Forward(ctx context.Context, req spell.Request, destinations []spellbook.Destination) (map[string]interface{}, bool) {
	merged := make(map[string]interface{})
	ok := true

	for _, dest := range destinations {
		if dest.StopName == f.localStop {
			continue
		}

		payload, err := f.post(ctx, req, dest)
		if err != nil {
			f.log.WithError(err).WithField("stop", dest.StopName).Warn("destination forward failed")
			merged["error"] = fmt.Sprintf("%s: %v", dest.StopName, err)
			ok = false
			continue
		}

		for k, v := range payload {
			merged[k] = v
		}
	}

	return merged, ok
}

func (f *Forwarder) post(ctx context.Context, req spell.Request, dest spellbook.Destination) (map[string]interface{}, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal spell: %w", err)
	}

	url := strings.TrimSuffix(dest.StopURL, "/") + "/" + req.SpellName
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload map[string]interface{}
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxForwardBody))
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload, nil
}
