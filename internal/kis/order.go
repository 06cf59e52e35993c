package kis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	orderCashPath = "/uapi/domestic-stock/v1/trading/order-cash"

	TrIDCashBuy  = "TTTC0802U"
	TrIDCashSell = "TTTC0801U"
)

// ErrInvalidOrder is returned before any network call for malformed orders.
var ErrInvalidOrder = errors.New("invalid order")

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderRequest is one domestic cash order. Price is ignored for market orders.
type OrderRequest struct {
	Symbol   string
	Quantity int64
	Price    int64
	Market   bool
	Side     Side
}

func (o OrderRequest) validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if !o.Market && o.Price <= 0 {
		return fmt.Errorf("%w: limit orders need a positive price", ErrInvalidOrder)
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}
	return nil
}

type orderBody struct {
	CANO       string `json:"CANO"`
	AcntPrdtCd string `json:"ACNT_PRDT_CD"`
	PDNO       string `json:"PDNO"`
	OrdDvsn    string `json:"ORD_DVSN"`
	OrdQty     string `json:"ORD_QTY"`
	OrdUnpr    string `json:"ORD_UNPR"`
}

func newOrderBody(cred Credential, o OrderRequest) orderBody {
	body := orderBody{
		CANO:       cred.AccountNumber,
		AcntPrdtCd: cred.AccountProductCode,
		PDNO:       o.Symbol,
		OrdDvsn:    "00",
		OrdQty:     strconv.FormatInt(o.Quantity, 10),
		OrdUnpr:    strconv.FormatInt(o.Price, 10),
	}
	if o.Market {
		body.OrdDvsn = "01"
		body.OrdUnpr = "0"
	}
	return body
}

// PlaceCashOrder submits one order and returns the broker order number (ODNO).
func (c *Client) PlaceCashOrder(ctx context.Context, cred Credential, tok *oauth2.Token, o OrderRequest) (string, error) {
	if err := o.validate(); err != nil {
		return "", err
	}
	trID := TrIDCashBuy
	if o.Side == SideSell {
		trID = TrIDCashSell
	}

	out, err := c.Do(ctx, cred, tok, http.MethodPost, orderCashPath, trID, newOrderBody(cred, o))
	if err != nil {
		return "", err
	}

	var parsed struct {
		ODNO string `json:"ODNO"`
	}
	if len(out) > 0 {
		if err := json.Unmarshal(out, &parsed); err != nil {
			return "", fmt.Errorf("decode order output: %w", err)
		}
	}
	return parsed.ODNO, nil
}

// BuyRequest is a buy with optional take-profit and stop-loss limit sells.
// A zero exit price disables that leg.
type BuyRequest struct {
	Symbol          string
	Quantity        int64
	Price           int64
	Market          bool
	TakeProfitPrice int64
	StopLossPrice   int64
}

// Validate checks the buy leg and the exit prices without touching the network.
func (r BuyRequest) Validate() error {
	if r.TakeProfitPrice < 0 || r.StopLossPrice < 0 {
		return fmt.Errorf("%w: exit prices cannot be negative", ErrInvalidOrder)
	}
	return OrderRequest{
		Symbol:   r.Symbol,
		Quantity: r.Quantity,
		Price:    r.Price,
		Market:   r.Market,
		Side:     SideBuy,
	}.validate()
}

// LegResult is the outcome of one exit order.
type LegResult struct {
	Enabled     bool   `json:"enabled"`
	OrderNumber string `json:"order_number,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

type BuyResult struct {
	BuyOrderNumber string    `json:"buy_order_number"`
	TakeProfit     LegResult `json:"take_profit"`
	StopLoss       LegResult `json:"stop_loss"`
	Message        string    `json:"message"`
}

// BuyWithExits places the buy, then each enabled exit. Only the buy can fail
// the whole call; exit failures are reported in the result.
func (c *Client) BuyWithExits(ctx context.Context, cred Credential, tok *oauth2.Token, req BuyRequest) (*BuyResult, error) {
	buyNo, err := c.PlaceCashOrder(ctx, cred, tok, OrderRequest{
		Symbol:   req.Symbol,
		Quantity: req.Quantity,
		Price:    req.Price,
		Market:   req.Market,
		Side:     SideBuy,
	})
	if err != nil {
		return nil, fmt.Errorf("buy order: %w", err)
	}

	result := &BuyResult{BuyOrderNumber: buyNo}
	result.TakeProfit = c.placeExit(ctx, cred, tok, req, req.TakeProfitPrice, "take-profit")
	result.StopLoss = c.placeExit(ctx, cred, tok, req, req.StopLossPrice, "stop-loss")
	result.Message = summarize(result.TakeProfit, result.StopLoss)
	return result, nil
}

func (c *Client) placeExit(ctx context.Context, cred Credential, tok *oauth2.Token, req BuyRequest, price int64, leg string) LegResult {
	if price <= 0 {
		return LegResult{}
	}
	no, err := c.PlaceCashOrder(ctx, cred, tok, OrderRequest{
		Symbol:   req.Symbol,
		Quantity: req.Quantity,
		Price:    price,
		Side:     SideSell,
	})
	if err != nil {
		log.Warn().Err(err).Str("symbol", req.Symbol).Str("leg", leg).Msg("exit order failed")
		return LegResult{Enabled: true, Error: err.Error()}
	}
	return LegResult{Enabled: true, Success: true, OrderNumber: no}
}

func summarize(tp, sl LegResult) string {
	switch {
	case tp.Enabled && sl.Enabled:
		switch {
		case tp.Success && sl.Success:
			return "buy, take-profit and stop-loss orders submitted"
		case tp.Success || sl.Success:
			return "buy order submitted, one exit order failed"
		default:
			return "buy order submitted, both exit orders failed"
		}
	case tp.Enabled:
		if tp.Success {
			return "buy and take-profit orders submitted"
		}
		return "buy order submitted, take-profit order failed"
	case sl.Enabled:
		if sl.Success {
			return "buy and stop-loss orders submitted"
		}
		return "buy order submitted, stop-loss order failed"
	}
	return "buy order submitted"
}
