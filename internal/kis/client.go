package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pysugar/trade-nexus/internal/util"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// TokenTTL is the lifetime assumed for every issued token. The tokenP
// payload's own expiry is not trusted.
const TokenTTL = 24 * time.Hour

// ErrIssuance covers every way token issuance can fail: transport error,
// timeout, non-2xx status or a payload without a string access_token.
var ErrIssuance = errors.New("kis token issuance failed")

// Client is the KIS HTTP client.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	nowFunc    func() time.Time
}

type ClientOption func(*Client)

// WithTimeout bounds each call, token issuance included.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithNowFunc sets the clock used to stamp token expiry.
func WithNowFunc(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowFunc = now
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    10 * time.Second,
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

// IssueToken performs one POST to /oauth2/tokenP. It never retries.
func (c *Client) IssueToken(ctx context.Context, cred Credential) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		AppKey:    cred.AppKey,
		AppSecret: cred.AppSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrIssuance, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.BaseURL+"/oauth2/tokenP", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrIssuance, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	defer resp.Body.Close()

	body, err := util.ReadLimited(resp.Body, util.MaxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrIssuance, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Int("status", resp.StatusCode).Str("body", util.TruncateBytes(body)).Msg("kis tokenP rejected")
		return nil, fmt.Errorf("%w: status %d", ErrIssuance, resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrIssuance, err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("%w: response has no access_token", ErrIssuance)
	}

	return &oauth2.Token{
		AccessToken: parsed.AccessToken,
		TokenType:   "Bearer",
		Expiry:      c.nowFunc().Add(TokenTTL),
	}, nil
}

// APIError is a KIS response whose rt_cd is not "0".
type APIError struct {
	Code    string
	MsgCode string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kis rt_cd=%s %s: %s", e.Code, e.MsgCode, e.Message)
}

// envelope is the part of every KIS response this client inspects.
type envelope struct {
	RtCd   string          `json:"rt_cd"`
	MsgCd  string          `json:"msg_cd"`
	Msg1   string          `json:"msg1"`
	Output json.RawMessage `json:"output"`
}

// Do sends one authenticated KIS call. The token is applied through
// oauth2.Token.SetAuthHeader over the BuildHeaders set, and trID fills the
// tr_id header. A non-2xx status or rt_cd != "0" is an error.
func (c *Client) Do(ctx context.Context, cred Credential, tok *oauth2.Token, method, path, trID string, body any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, cred.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header = BuildHeaders(cred, "")
	if tok != nil {
		tok.SetAuthHeader(req)
	}
	req.Header.Set("tr_id", trID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kis %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := util.ReadLimited(resp.Body, util.MaxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read kis %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Str("path", path).Int("status", resp.StatusCode).Str("body", util.TruncateBytes(raw)).Msg("kis call failed")
		return nil, fmt.Errorf("kis %s: status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode kis %s response: %w", path, err)
	}
	if env.RtCd != "0" {
		return nil, &APIError{Code: env.RtCd, MsgCode: env.MsgCd, Message: env.Msg1}
	}
	return env.Output, nil
}
