package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pysugar/trade-nexus/internal/util"
	"github.com/rs/zerolog/log"
)

// APIError is the {"error":{"name","message"}} body Upbit returns on failure.
type APIError struct {
	Status  int
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upbit %d %s: %s", e.Status, e.Name, ErrorMessage(e.Name, e.Message))
}

// Account is one balance row of GET /v1/accounts.
type Account struct {
	Currency            string `json:"currency"`
	Balance             string `json:"balance"`
	Locked              string `json:"locked"`
	AvgBuyPrice         string `json:"avg_buy_price"`
	AvgBuyPriceModified bool   `json:"avg_buy_price_modified"`
	UnitCurrency        string `json:"unit_currency"`
}

// Market is the quote-base code the balance trades under, e.g. KRW-BTC.
func (a Account) Market() string {
	return a.UnitCurrency + "-" + a.Currency
}

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Accounts lists the balances of the key pair's owner.
func (c *Client) Accounts(ctx context.Context, cred Credential) ([]Account, error) {
	var accounts []Account
	if err := c.get(ctx, cred, "/v1/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (c *Client) get(ctx context.Context, cred Credential, path string, query url.Values, out any) error {
	headers, err := Headers(cred, query)
	if err != nil {
		return err
	}

	target := cred.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build upbit request: %w", err)
	}
	req.Header = headers

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upbit %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := util.ReadLimited(resp.Body, util.MaxResponseBytes)
	if err != nil {
		return fmt.Errorf("read upbit %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn().Str("path", path).Int("status", resp.StatusCode).Str("body", util.TruncateBytes(body)).Msg("upbit call failed")
		apiErr := &APIError{Status: resp.StatusCode}
		var wrapped struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil {
			apiErr.Name = wrapped.Error.Name
			apiErr.Message = wrapped.Error.Message
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode upbit %s response: %w", path, err)
	}
	return nil
}
