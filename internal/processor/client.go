package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"marketplace-payments/internal/models"
)

// Client talks to the payment processor on behalf of one merchant
// sub-account. It is constructed per request from the merchant's
// decrypted secret key; the key is held only here.
type Client struct {
	baseURL   string
	secretKey string
	accountID string
	http      *http.Client
}

// API is the narrow processor surface the services depend on.
type API interface {
	CreateAuthorization(ctx context.Context, req *AuthorizationRequest) (*Authorization, error)
	RetrieveAccount(ctx context.Context) (*Account, error)
	FindAuthorizationByOrder(ctx context.Context, orderID string) (*Authorization, error)
}

// AuthorizationRequest creates a charge authorization on the
// merchant's own sub-account. ApplicationFee is recorded as metadata
// for settlement; the gross amount is routed to the sub-account.
type AuthorizationRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	ApplicationFee int64             `json:"application_fee"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Description    string            `json:"description,omitempty"`
}

// Authorization is the processor's view of a created authorization.
type Authorization struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Account is the processor's view of a merchant sub-account.
type Account struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

type listAuthorizationsResponse struct {
	Data []Authorization `json:"data"`
}

// NewClient creates a processor client bound to a merchant sub-account.
func NewClient(baseURL, accountID, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		accountID: accountID,
		http:      &http.Client{Timeout: timeout},
	}
}

// CreateAuthorization authorizes the gross amount on the merchant
// sub-account.
func (c *Client) CreateAuthorization(ctx context.Context, req *AuthorizationRequest) (*Authorization, error) {
	var auth Authorization
	if err := c.do(ctx, http.MethodPost, "/authorizations", req, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// RetrieveAccount fetches the verification flags of the sub-account
// the secret key belongs to. Used as the live round-trip before
// credentials are persisted.
func (c *Client) RetrieveAccount(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.do(ctx, http.MethodGet, "/account", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// FindAuthorizationByOrder queries the processor for an authorization
// already created for an order. Recovery path when a prior remote
// create succeeded but the local persist did not.
func (c *Client) FindAuthorizationByOrder(ctx context.Context, orderID string) (*Authorization, error) {
	var list listAuthorizationsResponse
	path := "/authorizations?metadata[order_id]=" + url.QueryEscape(orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return &list.Data[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal processor request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build processor request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if c.accountID != "" {
		req.Header.Set("Processor-Account", c.accountID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrProcessor, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: processor returned %d", models.ErrProcessor, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: processor returned %d", models.ErrProcessorRejected, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("processor request failed with %d: %w", resp.StatusCode, models.ErrValidation)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode processor response: %w", err)
	}
	return nil
}
