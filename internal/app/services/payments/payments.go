// Package payments bridges currency-priced spells to an external processor.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fount-network/fount/pkg/logger"
)

// HTTPProvider charges casters through a remote payment processor. The
// processor owns all card and balance state; fount only asks yes or no.
type HTTPProvider struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPProvider constructs a provider against the given endpoint.
func NewHTTPProvider(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("payments endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse payments endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("payments")
	}
	return &HTTPProvider{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

// Spend asks the processor to charge amount against uuid's payment method.
// A declined charge is not an error.
func (p *HTTPProvider) Spend(ctx context.Context, uuid string, amount int) (bool, error) {
	body, err := json.Marshal(map[string]interface{}{
		"uuid":   uuid,
		"amount": amount,
	})
	if err != nil {
		return false, fmt.Errorf("marshal charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("charge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("processor status %d", resp.StatusCode)
	}

	var payload struct {
		Approved bool   `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("decode charge response: %w", err)
	}

	if !payload.Approved {
		p.log.WithFields(map[string]interface{}{
			"uuid":   uuid,
			"reason": payload.Reason,
		}).Info("charge declined")
	}
	return payload.Approved, nil
}

// Disabled declines every charge. Used when no processor is configured so
// currency-priced spells fail closed.
type Disabled struct{}

func (Disabled) Spend(ctx context.Context, uuid string, amount int) (bool, error) {
	return false, nil
}
