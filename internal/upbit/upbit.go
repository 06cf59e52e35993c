// Package upbit signs and sends requests to the Upbit exchange REST API.
package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultBaseURL = "https://api.upbit.com"

var marketCodeRegexp = regexp.MustCompile(`^[A-Z]{3,4}-[A-Z]{2,10}$`)

// Credential is a user's exchange key pair with the base URL defaulted.
type Credential struct {
	AccessKey string
	SecretKey string
	BaseURL   string
}

// Usable reports whether both keys are present.
func (c *Credential) Usable() bool {
	return c != nil && c.AccessKey != "" && c.SecretKey != ""
}

func (c Credential) WithDefaults(baseURL string) Credential {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// SignJWT builds the HS256 token Upbit expects. A non-empty query adds the
// SHA512 query_hash claim over its url-encoded form.
func SignJWT(cred Credential, query url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": cred.AccessKey,
		"nonce":      uuid.NewString(),
	}
	if len(query) > 0 {
		sum := sha512.Sum512([]byte(query.Encode()))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cred.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign upbit jwt: %w", err)
	}
	return signed, nil
}

// Headers returns the header set of an authenticated Upbit call.
func Headers(cred Credential, query url.Values) (http.Header, error) {
	signed, err := SignJWT(cred, query)
	if err != nil {
		return nil, err
	}
	h := make(http.Header, 2)
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+signed)
	return h, nil
}

// ValidateMarketCode accepts codes such as KRW-BTC or BTC-ETH.
func ValidateMarketCode(market string) bool {
	return marketCodeRegexp.MatchString(market)
}

func IsKRWMarket(market string) bool {
	return strings.HasPrefix(market, "KRW-")
}

var errorMessages = map[string]string{
	"invalid_access_key":    "Upbit access key is invalid",
	"jwt_verification":      "Upbit JWT verification failed",
	"invalid_query_payload": "Upbit request parameters are invalid",
	"market_does_not_exist": "market does not exist",
	"insufficient_funds":    "insufficient funds",
	"order_not_found":       "order not found",
}

// ErrorMessage maps an Upbit error name to a user-facing message.
func ErrorMessage(name, fallback string) string {
	if msg, ok := errorMessages[name]; ok {
		return msg
	}
	if fallback != "" {
		return fallback
	}
	return "Upbit API error"
}
