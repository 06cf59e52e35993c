// Package kis talks to the Korea Investment & Securities open API: token
// issuance, the common header set, and cash orders.
package kis

import (
	"net/http"
	"strings"
)

const (
	DefaultBaseURL     = "https://openapi.koreainvestment.com:9443"
	DefaultProductCode = "01"
)

// Credential is a user's brokerage API material with defaults applied.
type Credential struct {
	AppKey             string
	AppSecret          string
	AccountNumber      string
	AccountProductCode string
	BaseURL            string
}

// Usable reports whether the required fields are all present. An unusable
// credential is treated as absent.
func (c *Credential) Usable() bool {
	return c != nil && c.AppKey != "" && c.AppSecret != "" && c.AccountNumber != ""
}

// WithDefaults fills the optional fields. baseURL falls back to DefaultBaseURL
// when empty.
func (c Credential) WithDefaults(baseURL string) Credential {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if c.AccountProductCode == "" {
		c.AccountProductCode = DefaultProductCode
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// BuildHeaders returns the header set every KIS call needs. tr_id is left
// empty for the caller to set per endpoint. No token yields an empty
// authorization value.
func BuildHeaders(cred Credential, accessToken string) http.Header {
	authorization := ""
	if accessToken != "" {
		authorization = "Bearer " + accessToken
	}
	h := make(http.Header, 5)
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Authorization", authorization)
	h.Set("appkey", cred.AppKey)
	h.Set("appsecret", cred.AppSecret)
	h.Set("tr_id", "")
	return h
}
