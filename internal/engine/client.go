// Package engine talks to the computation engine: live opportunity
// snapshots and safety sub-checks over HTTP, plus a push feed over
// WebSocket.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"arb-edge/internal/domain"
	"arb-edge/internal/envelope"
)

// DefaultTimeout bounds a single engine round trip.
const DefaultTimeout = 10 * time.Second

// Client is the HTTP client for the engine API. It implements both the
// live opportunity source and the safety check provider.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

// NewClient creates a Client for the given engine base URL.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse engine url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("engine url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: u, client: httpClient}, nil
}

// FetchLive returns the engine's current opportunity snapshot. chainID 0
// requests all chains.
func (c *Client) FetchLive(ctx context.Context, chainID int64) ([]*domain.Opportunity, error) {
	query := url.Values{}
	if chainID > 0 {
		query.Set("chainId", strconv.FormatInt(chainID, 10))
	}

	var payload struct {
		Opportunities []*domain.Opportunity `json:"opportunities"`
	}
	if err := c.getJSON(ctx, "/live", query, &payload); err != nil {
		return nil, err
	}
	return payload.Opportunities, nil
}

type checkPayload struct {
	Passed bool   `json:"passed"`
	Score  int    `json:"score"`
	Error  string `json:"error"`
}

func (c *Client) check(ctx context.Context, path, address string, chainID int64) (domain.CheckResult, error) {
	query := url.Values{}
	query.Set("address", address)
	if chainID > 0 {
		query.Set("chainId", strconv.FormatInt(chainID, 10))
	}

	var payload checkPayload
	if err := c.getJSON(ctx, path, query, &payload); err != nil {
		return domain.CheckResult{}, err
	}
	return domain.CheckResult{Passed: payload.Passed, Score: payload.Score, Error: payload.Error}, nil
}

// Liquidity reports pool depth adequacy for the address.
func (c *Client) Liquidity(ctx context.Context, address string, chainID int64) (domain.CheckResult, error) {
	return c.check(ctx, "/checks/liquidity", address, chainID)
}

// Verification reports contract source verification status.
func (c *Client) Verification(ctx context.Context, address string, chainID int64) (domain.CheckResult, error) {
	return c.check(ctx, "/checks/verification", address, chainID)
}

// Distribution reports holder concentration.
func (c *Client) Distribution(ctx context.Context, address string, chainID int64) (domain.CheckResult, error) {
	return c.check(ctx, "/checks/holders", address, chainID)
}

// Volume reports trading volume plausibility.
func (c *Client) Volume(ctx context.Context, address string, chainID int64) (domain.CheckResult, error) {
	return c.check(ctx, "/checks/volume", address, chainID)
}

// Blacklisted reports deny-list membership for the address.
func (c *Client) Blacklisted(ctx context.Context, address string) (bool, error) {
	query := url.Values{}
	query.Set("address", address)

	var payload struct {
		Blacklisted bool `json:"blacklisted"`
	}
	if err := c.getJSON(ctx, "/checks/blacklist", query, &payload); err != nil {
		return false, err
	}
	return payload.Blacklisted, nil
}

// RugpullRisk returns the engine's categorical rugpull classification.
func (c *Client) RugpullRisk(ctx context.Context, address string, chainID int64) (domain.RiskLevel, error) {
	query := url.Values{}
	query.Set("address", address)
	if chainID > 0 {
		query.Set("chainId", strconv.FormatInt(chainID, 10))
	}

	var payload struct {
		Risk string `json:"risk"`
	}
	if err := c.getJSON(ctx, "/checks/rugpull", query, &payload); err != nil {
		return domain.RiskUnknown, err
	}

	switch domain.RiskLevel(payload.Risk) {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
		return domain.RiskLevel(payload.Risk), nil
	default:
		return domain.RiskUnknown, nil
	}
}

// getJSON performs one GET and decodes the JSON body into out. Non-200
// statuses and non-JSON bodies are typed upstream errors.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return envelope.Upstream("engine unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return envelope.Upstream(fmt.Sprintf("engine returned status %d for %s", resp.StatusCode, path), nil)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, parseErr := mime.ParseMediaType(contentType)
	if parseErr != nil || (mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json")) {
		return envelope.BadUpstreamType(contentType)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return envelope.Upstream(fmt.Sprintf("decoding engine response for %s failed", path), err)
	}
	return nil
}
