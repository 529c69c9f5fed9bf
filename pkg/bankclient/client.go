/**
 * @description
 * This package provides a client for the bank transfer gateway: interbank
 * disbursements with optional OTP validation, account name enquiry, the bank
 * list, and virtual account provisioning for wallet deposits.
 *
 * Key features:
 * - Transfer responses are normalized into domain.GatewayOutcome; transport
 *   failures surface as Go errors so settlement treats them as indeterminate.
 * - The bank list rarely changes and is cached with a TTL.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, sync, time: Standard Go libraries.
 * - internal/domain: The normalized gateway outcome shape.
 */
package bankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kudipay/chatpay-service/internal/domain"
)

const bankListLifetime = time.Hour

// Client is a client for the bank gateway API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	banksMu      sync.Mutex
	banks        []domain.Bank
	banksFetched time.Time
}

// NewClient creates a new bank gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type transferRequest struct {
	Amount        int64  `json:"amount"` // kobo
	Reference     string `json:"reference"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Narration     string `json:"narration"`
}

type otpRequest struct {
	Reference string `json:"reference"`
	Code      string `json:"code"`
}

type transferResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"` // provider-side reference
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

func (c *Client) newRequest(ctx context.Context, method, path string, payload interface{}) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	return req, nil
}

// InitiateTransfer starts an interbank transfer. The ledger reference is the
// provider-side idempotency key.
func (c *Client) InitiateTransfer(ctx context.Context, amount int64, reference, accountNumber, bankCode, narration string) (*domain.GatewayOutcome, error) {
	payload := transferRequest{
		Amount:        amount,
		Reference:     reference,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Narration:     narration,
	}
	return c.doTransferCall(ctx, "/api/v1/transfers", payload, reference)
}

// ValidateTransferOTP submits the OTP for a transfer the provider challenged.
func (c *Client) ValidateTransferOTP(ctx context.Context, reference, code string) (*domain.GatewayOutcome, error) {
	payload := otpRequest{Reference: reference, Code: code}
	return c.doTransferCall(ctx, "/api/v1/transfers/otp", payload, reference)
}

func (c *Client) doTransferCall(ctx context.Context, path string, payload interface{}, reference string) (*domain.GatewayOutcome, error) {
	req, err := c.newRequest(ctx, "POST", path, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer response: %w", err)
	}

	// A 4xx is a definitive decline; anything else non-2xx is indeterminate.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var errResp errorResponse
		_ = json.Unmarshal(bodyBytes, &errResp)
		log.Printf("level=warn component=bank_client op=transfer status=%d msg=%q reference=%s", resp.StatusCode, errResp.text(), reference)
		return &domain.GatewayOutcome{Status: domain.OutcomeFailed, Message: errResp.text()}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bank gateway returned status %d", resp.StatusCode)
	}

	var transferResp transferResponse
	if err := json.Unmarshal(bodyBytes, &transferResp); err != nil {
		return nil, fmt.Errorf("failed to decode transfer response: %w", err)
	}

	outcome := &domain.GatewayOutcome{
		ProviderReference: transferResp.Reference,
		Message:           transferResp.Message,
	}
	switch strings.ToLower(transferResp.Status) {
	case "success", "successful", "completed":
		outcome.Status = domain.OutcomeSuccess
	case "otp_required", "otp":
		outcome.Status = domain.OutcomeOTPRequired
	case "pending", "processing", "queued":
		outcome.Status = domain.OutcomePending
	default:
		outcome.Status = domain.OutcomeFailed
	}
	return outcome, nil
}

type resolveResponse struct {
	AccountName string `json:"account_name"`
	BankName    string `json:"bank_name"`
}

// ResolveAccount performs a name enquiry on an account. A provider "not found"
// answer maps to domain.ErrAccountNotResolvable so the transfer flow can fall
// back to manual name entry.
func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*domain.ResolvedAccount, error) {
	path := fmt.Sprintf("/api/v1/accounts/resolve?account_number=%s&bank_code=%s", accountNumber, bankCode)
	req, err := c.newRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute resolve request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, domain.ErrAccountNotResolvable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bank gateway resolve returned status %d", resp.StatusCode)
	}

	var resolveResp resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&resolveResp); err != nil {
		return nil, fmt.Errorf("failed to decode resolve response: %w", err)
	}
	if resolveResp.AccountName == "" {
		return nil, domain.ErrAccountNotResolvable
	}
	return &domain.ResolvedAccount{AccountName: resolveResp.AccountName, BankName: resolveResp.BankName}, nil
}

type bankListResponse struct {
	Banks []domain.Bank `json:"banks"`
}

// ListBanks returns the supported destination banks, cached for an hour.
func (c *Client) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	c.banksMu.Lock()
	defer c.banksMu.Unlock()

	if time.Since(c.banksFetched) < bankListLifetime && len(c.banks) > 0 {
		out := make([]domain.Bank, len(c.banks))
		copy(out, c.banks)
		return out, nil
	}

	req, err := c.newRequest(ctx, "GET", "/api/v1/banks", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute bank list request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bank gateway bank list returned status %d", resp.StatusCode)
	}

	var listResp bankListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("failed to decode bank list response: %w", err)
	}

	c.banks = listResp.Banks
	c.banksFetched = time.Now()
	out := make([]domain.Bank, len(c.banks))
	copy(out, c.banks)
	return out, nil
}

type createVirtualAccountRequest struct {
	AccountReference string `json:"account_reference"`
	CustomerName     string `json:"customer_name"`
}

type createVirtualAccountResponse struct {
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
}

// CreateVirtualAccount provisions a dedicated funding account for a customer.
func (c *Client) CreateVirtualAccount(ctx context.Context, accountReference, customerName string) (*domain.VirtualAccount, error) {
	payload := createVirtualAccountRequest{
		AccountReference: accountReference,
		CustomerName:     customerName,
	}
	req, err := c.newRequest(ctx, "POST", "/api/v1/virtual-accounts", payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute virtual account request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bank gateway virtual account returned status %d", resp.StatusCode)
	}

	var accountResp createVirtualAccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&accountResp); err != nil {
		return nil, fmt.Errorf("failed to decode virtual account response: %w", err)
	}
	if accountResp.AccountNumber == "" {
		return nil, fmt.Errorf("bank gateway returned an empty account number")
	}

	return &domain.VirtualAccount{
		AccountReference: accountReference,
		AccountNumber:    accountResp.AccountNumber,
		BankName:         accountResp.BankName,
	}, nil
}
