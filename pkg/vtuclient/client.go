/**
 * @description
 * This package provides a client for the telco VTU (virtual top-up) provider.
 * It encapsulates bearer-token authentication, airtime and data purchase
 * calls, and the read-only plan catalog the data flow selects from.
 *
 * Key features:
 * - Tokens are cached and refreshed shortly before provider expiry, so normal
 *   traffic never pays the login round trip.
 * - The catalog (networks, validities, plans) is cached with a TTL; a stale
 *   catalog only risks showing a retired plan, which the purchase call rejects.
 * - Provider responses are normalized into domain.GatewayOutcome; transport
 *   failures surface as Go errors and are never mistaken for declines.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, sync, time: Standard Go libraries.
 * - internal/domain: The normalized gateway outcome shape.
 */
package vtuclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kudipay/chatpay-service/internal/domain"
)

const (
	tokenLifetime   = 55 * time.Minute
	catalogLifetime = 10 * time.Minute
)

// Client is a client for the VTU provider API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	catalogMu      sync.Mutex
	networks       []domain.Network
	validities     map[string][]string
	plans          map[string][]domain.DataPlan // keyed by network|validity
	catalogFetched time.Time
}

// NewClient creates a new VTU provider client.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type loginResponse struct {
	Token string `json:"token"`
}

// purchaseRequest is the shared payload shape for airtime and data purchases.
type purchaseRequest struct {
	Network     string `json:"network"`
	PhoneNumber string `json:"phone_number"`
	Amount      int64  `json:"amount,omitempty"` // kobo, airtime only
	PlanID      string `json:"plan_id,omitempty"`
	RequestID   string `json:"request_id"`
}

type purchaseResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e *errorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// authToken returns a cached bearer token, logging in when none is live.
func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	if err != nil {
		return "", fmt.Errorf("failed to marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/auth/login", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("vtu login failed with status %d", resp.StatusCode)
	}

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if loginResp.Token == "" {
		return "", fmt.Errorf("vtu login returned an empty token")
	}

	c.token = loginResp.Token
	c.tokenExpiry = time.Now().Add(tokenLifetime)
	return c.token, nil
}

// PurchaseAirtime buys airtime for a phone number. The requestID is echoed to
// the provider as its idempotency key.
func (c *Client) PurchaseAirtime(ctx context.Context, network, phoneNumber string, amount int64, requestID string) (*domain.GatewayOutcome, error) {
	payload := purchaseRequest{
		Network:     network,
		PhoneNumber: phoneNumber,
		Amount:      amount,
		RequestID:   requestID,
	}
	return c.doPurchase(ctx, "/api/v1/airtime", payload)
}

// PurchaseData buys a data bundle by catalog plan id.
func (c *Client) PurchaseData(ctx context.Context, network, phoneNumber, planID, requestID string) (*domain.GatewayOutcome, error) {
	payload := purchaseRequest{
		Network:     network,
		PhoneNumber: phoneNumber,
		PlanID:      planID,
		RequestID:   requestID,
	}
	return c.doPurchase(ctx, "/api/v1/data", payload)
}

func (c *Client) doPurchase(ctx context.Context, path string, payload purchaseRequest) (*domain.GatewayOutcome, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purchase request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute purchase request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read purchase response: %w", err)
	}

	// A 4xx is a definitive decline; anything else non-2xx is indeterminate.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var errResp errorResponse
		_ = json.Unmarshal(bodyBytes, &errResp)
		log.Printf("level=warn component=vtu_client op=purchase status=%d msg=%q request_id=%s", resp.StatusCode, errResp.text(), payload.RequestID)
		return &domain.GatewayOutcome{Status: domain.OutcomeFailed, Message: errResp.text()}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vtu purchase returned status %d", resp.StatusCode)
	}

	var purchaseResp purchaseResponse
	if err := json.Unmarshal(bodyBytes, &purchaseResp); err != nil {
		return nil, fmt.Errorf("failed to decode purchase response: %w", err)
	}

	outcome := &domain.GatewayOutcome{
		ProviderReference: purchaseResp.Reference,
		Message:           purchaseResp.Message,
	}
	switch strings.ToLower(purchaseResp.Status) {
	case "success", "successful", "delivered":
		outcome.Status = domain.OutcomeSuccess
	case "pending", "processing":
		outcome.Status = domain.OutcomePending
	default:
		outcome.Status = domain.OutcomeFailed
	}
	return outcome, nil
}

type catalogResponse struct {
	Networks []struct {
		Code  string `json:"code"`
		Name  string `json:"name"`
		Plans []struct {
			ID       string `json:"id"`
			Validity string `json:"validity"`
			Label    string `json:"label"`
			Price    int64  `json:"price"` // kobo
		} `json:"plans"`
	} `json:"networks"`
}

// refreshCatalog fetches the full network and plan catalog. Callers hold
// catalogMu.
func (c *Client) refreshCatalog(ctx context.Context) error {
	if time.Since(c.catalogFetched) < catalogLifetime && len(c.networks) > 0 {
		return nil
	}

	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/catalog", nil)
	if err != nil {
		return fmt.Errorf("failed to create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vtu catalog returned status %d", resp.StatusCode)
	}

	var catalog catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}

	networks := make([]domain.Network, 0, len(catalog.Networks))
	validities := make(map[string][]string)
	plans := make(map[string][]domain.DataPlan)
	for _, n := range catalog.Networks {
		networks = append(networks, domain.Network{Code: n.Code, Name: n.Name})
		seen := make(map[string]bool)
		for _, p := range n.Plans {
			if !seen[p.Validity] {
				seen[p.Validity] = true
				validities[n.Code] = append(validities[n.Code], p.Validity)
			}
			key := planKey(n.Code, p.Validity)
			plans[key] = append(plans[key], domain.DataPlan{
				ID:       p.ID,
				Network:  n.Code,
				Validity: p.Validity,
				Label:    p.Label,
				Price:    p.Price,
			})
		}
	}

	c.networks = networks
	c.validities = validities
	c.plans = plans
	c.catalogFetched = time.Now()
	return nil
}

func planKey(network, validity string) string {
	return network + "|" + url.QueryEscape(validity)
}

// ListNetworks returns the supported mobile networks.
func (c *Client) ListNetworks(ctx context.Context) ([]domain.Network, error) {
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	if err := c.refreshCatalog(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.Network, len(c.networks))
	copy(out, c.networks)
	return out, nil
}

// ListValidities returns the validity periods available for a network.
func (c *Client) ListValidities(ctx context.Context, network string) ([]string, error) {
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	if err := c.refreshCatalog(ctx); err != nil {
		return nil, err
	}
	out := make([]string, len(c.validities[network]))
	copy(out, c.validities[network])
	return out, nil
}

// ListPlans returns the data plans for a network and validity period.
func (c *Client) ListPlans(ctx context.Context, network, validity string) ([]domain.DataPlan, error) {
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	if err := c.refreshCatalog(ctx); err != nil {
		return nil, err
	}
	cached := c.plans[planKey(network, validity)]
	out := make([]domain.DataPlan, len(cached))
	copy(out, cached)
	return out, nil
}
