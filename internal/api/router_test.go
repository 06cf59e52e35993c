package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/trade-nexus/internal/auth/token"
	"github.com/pysugar/trade-nexus/internal/credential"
	"github.com/pysugar/trade-nexus/internal/db"
	"github.com/pysugar/trade-nexus/internal/db/dbtest"
	"github.com/pysugar/trade-nexus/internal/kis"
	"github.com/pysugar/trade-nexus/internal/upbit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker answers tokenP and order-cash like the KIS open API.
type fakeBroker struct {
	*httptest.Server
	tokenCalls atomic.Int64
	orders     atomic.Int64
	rejectAuth atomic.Bool
}

func newFakeBroker(t *testing.T) *fakeBroker {
	b := &fakeBroker{}
	mux := chi.NewRouter()
	mux.Post("/oauth2/tokenP", func(w http.ResponseWriter, r *http.Request) {
		n := b.tokenCalls.Add(1)
		if b.rejectAuth.Load() {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error_code":"EGW00103","error_description":"invalid appkey"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "kis-token-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   86400,
		})
	})
	mux.Post("/uapi/domestic-stock/v1/trading/order-cash", func(w http.ResponseWriter, r *http.Request) {
		b.orders.Add(1)
		assert.Equal(t, "Bearer kis-token-"+string(rune('0'+b.tokenCalls.Load())), r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"rt_cd":  "0",
			"msg1":   "ok",
			"output": map[string]string{"ODNO": "0000117"},
		})
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

type testEnv struct {
	t       *testing.T
	handler http.Handler
	apiKey  string
	broker  *fakeBroker
}

func newTestEnv(t *testing.T, adminPassword string) *testEnv {
	database := dbtest.Open(t)
	apiKey, err := db.EnsureAPIKey(database)
	require.NoError(t, err)

	kisClient := kis.NewClient(kis.WithTimeout(2 * time.Second))
	deps := Deps{
		DB:            database,
		Credentials:   credential.NewStore(database, nil),
		Tokens:        token.NewManager(token.NewStore(database), kisClient),
		KIS:           kisClient,
		Upbit:         upbit.NewClient(2 * time.Second),
		AdminPassword: adminPassword,
	}
	return &testEnv{
		t:       t,
		handler: NewRouter(deps),
		apiKey:  apiKey,
		broker:  newFakeBroker(t),
	}
}

func (e *testEnv) do(method, path, user string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	if user != "" {
		req.Header.Set("X-Nexus-User", user)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) saveKIS(user string) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/kis-settings", user, map[string]string{
		"app_key":        "app-key",
		"app_secret":     "app-secret",
		"account_number": "50012345",
		"base_url":       e.broker.URL,
	})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

var marketBuy = map[string]any{"symbol": "005930", "quantity": 1, "order_type": "market"}

func TestRouter_RequiresAPIKeyAndUser(t *testing.T) {
	env := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "online", decode(t, rec)["status"])

	rec = env.do(http.MethodGet, "/api/tokens/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStockBuy_WithoutSettings(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, "/api/stock-buy", "u1", marketBuy)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "KIS API settings are required")
	assert.Zero(t, env.broker.tokenCalls.Load())
}

func TestStockBuy_ReusesCachedToken(t *testing.T) {
	env := newTestEnv(t, "")
	env.saveKIS("u1")

	for n := 0; n < 2; n++ {
		rec := env.do(http.MethodPost, "/api/stock-buy", "u1", marketBuy)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "0000117", body["buy_order_number"])
	}
	assert.Equal(t, int64(1), env.broker.tokenCalls.Load())
	assert.Equal(t, int64(2), env.broker.orders.Load())

	status := decode(t, env.do(http.MethodGet, "/api/tokens/status", "u1", nil))
	assert.Equal(t, true, status["has_token"])
	assert.Equal(t, float64(23), status["remaining_hours"])
}

func TestStockBuy_WithExits(t *testing.T) {
	env := newTestEnv(t, "")
	env.saveKIS("u1")

	rec := env.do(http.MethodPost, "/api/stock-buy", "u1", map[string]any{
		"symbol": "005930", "quantity": 2, "price": 70000, "order_type": "limit",
		"take_profit_price": 77000, "stop_loss_price": 65000,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(3), env.broker.orders.Load())
	assert.Contains(t, rec.Body.String(), "take-profit and stop-loss orders submitted")
}

func TestStockBuy_InvalidOrder(t *testing.T) {
	env := newTestEnv(t, "")
	env.saveKIS("u1")

	rec := env.do(http.MethodPost, "/api/stock-buy", "u1", map[string]any{"symbol": "005930", "order_type": "market"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.broker.tokenCalls.Load())
}

func TestLogoutForcesReissue(t *testing.T) {
	env := newTestEnv(t, "")
	env.saveKIS("u1")

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/stock-buy", "u1", marketBuy).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/tokens", "u1", nil).Code)

	status := decode(t, env.do(http.MethodGet, "/api/tokens/status", "u1", nil))
	assert.Equal(t, false, status["has_token"])

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/stock-buy", "u1", marketBuy).Code)
	assert.Equal(t, int64(2), env.broker.tokenCalls.Load())
}

func TestSavingSettingsDropsToken(t *testing.T) {
	env := newTestEnv(t, "")
	env.saveKIS("u1")
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/stock-buy", "u1", marketBuy).Code)

	env.saveKIS("u1")
	status := decode(t, env.do(http.MethodGet, "/api/tokens/status", "u1", nil))
	assert.Equal(t, false, status["has_token"])
}

func TestStockBuy_IssuanceFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.saveKIS("u1")
	env.broker.rejectAuth.Store(true)

	rec := env.do(http.MethodPost, "/api/stock-buy", "u1", marketBuy)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "KIS API authentication failed")
	assert.Zero(t, env.broker.orders.Load())

	status := decode(t, env.do(http.MethodGet, "/api/tokens/status", "u1", nil))
	assert.Equal(t, false, status["has_token"])
}

func TestKISSettings_MaskedView(t *testing.T) {
	env := newTestEnv(t, "")

	view := decode(t, env.do(http.MethodGet, "/api/kis-settings", "u1", nil))
	assert.Equal(t, "", view["app_key"])
	assert.Equal(t, kis.DefaultProductCode, view["account_product_code"])

	env.saveKIS("u1")
	view = decode(t, env.do(http.MethodGet, "/api/kis-settings", "u1", nil))
	assert.Equal(t, "app-key", view["app_key"])
	assert.NotEqual(t, "app-secret", view["app_secret"])
	assert.NotContains(t, env.do(http.MethodGet, "/api/kis-settings", "u1", nil).Body.String(), "app-secret")

	rec := env.do(http.MethodPost, "/api/kis-settings", "u1", map[string]string{"app_key": "only"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenCleanup_AdminOnly(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	rec := env.do(http.MethodPost, "/api/tokens/cleanup", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/tokens/cleanup", nil)
	req.Header.Set("x-api-key", env.apiKey)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["deleted"])
}

func TestRegenerateAPIKey(t *testing.T) {
	env := newTestEnv(t, "")
	oldKey := env.apiKey

	rec := env.do(http.MethodPost, "/api/config/apikey/regenerate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	newKey, _ := decode(t, rec)["api_key"].(string)
	require.NotEmpty(t, newKey)
	assert.NotEqual(t, oldKey, newKey)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/status", "", nil).Code)
	env.apiKey = newKey
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/status", "", nil).Code)
	assert.Equal(t, newKey, decode(t, env.do(http.MethodGet, "/api/config/apikey", "", nil))["api_key"])
}

func TestCryptoAssets(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodGet, "/api/crypto/assets", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	exchange := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		_, _ = w.Write([]byte(`[{"currency":"KRW","balance":"100000","unit_currency":"KRW"},{"currency":"BTC","balance":"0.5","locked":"0","avg_buy_price":"90000000","unit_currency":"KRW"}]`))
	}))
	t.Cleanup(exchange.Close)

	rec = env.do(http.MethodPost, "/api/upbit-settings", "u1", map[string]string{
		"access_key": "access", "secret_key": "secret", "base_url": exchange.URL,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/crypto/assets", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"currency":"BTC"`)
}

func TestCryptoAssets_MarketFilter(t *testing.T) {
	env := newTestEnv(t, "")
	exchange := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"currency":"KRW","balance":"100000","unit_currency":"KRW"},{"currency":"BTC","balance":"0.5","unit_currency":"KRW"}]`))
	}))
	t.Cleanup(exchange.Close)
	rec := env.do(http.MethodPost, "/api/upbit-settings", "u1", map[string]string{
		"access_key": "access", "secret_key": "secret", "base_url": exchange.URL,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/crypto/assets?market=krw-btc", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assets, _ := decode(t, rec)["assets"].([]any)
	require.Len(t, assets, 1)
	assert.Equal(t, "BTC", assets[0].(map[string]any)["currency"])

	rec = env.do(http.MethodGet, "/api/crypto/assets?market=BTC", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid market code")

	rec = env.do(http.MethodGet, "/api/crypto/assets?market=BTC-ETH", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Only KRW markets")
}
