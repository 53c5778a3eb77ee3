package deribit

import (
	"context"
	"encoding/json"
)

// Requester performs a single API action. Both *Client and *RestClient
// implement it.
type Requester interface {
	Request(ctx context.Context, action string, params map[string]any) (json.RawMessage, error)
}

var (
	_ Requester = (*Client)(nil)
	_ Requester = (*RestClient)(nil)
)

// API shapes parameters for the public and private v1 actions. Results are
// returned as raw JSON.
type API struct {
	r Requester
}

// NewAPI returns an API issuing its calls through r.
func NewAPI(r Requester) *API {
	return &API{r: r}
}

// OrderParams describes a new limit order.
type OrderParams struct {
	Instrument string
	Quantity   float64
	Price      float64
	PostOnly   bool
	Label      string
}

func (p OrderParams) args() map[string]any {
	args := map[string]any{
		"instrument": p.Instrument,
		"quantity":   p.Quantity,
		"price":      p.Price,
	}
	if p.Label != "" {
		args["label"] = p.Label
	}
	if p.PostOnly {
		args["postOnly"] = true
	}
	return args
}

func (a *API) GetOrderBook(ctx context.Context, instrument string) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/public/getorderbook", map[string]any{"instrument": instrument})
}

func (a *API) GetInstruments(ctx context.Context) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/public/getinstruments", nil)
}

func (a *API) GetCurrencies(ctx context.Context) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/public/getcurrencies", nil)
}

// GetLastTrades returns recent trades of instrument. Zero count or since are
// omitted.
func (a *API) GetLastTrades(ctx context.Context, instrument string, count int, since int64) (json.RawMessage, error) {
	args := map[string]any{"instrument": instrument}
	if since != 0 {
		args["since"] = since
	}
	if count != 0 {
		args["count"] = count
	}
	return a.r.Request(ctx, "/api/v1/public/getlasttrades", args)
}

func (a *API) GetSummary(ctx context.Context, instrument string) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/public/getsummary", map[string]any{"instrument": instrument})
}

func (a *API) Index(ctx context.Context) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/public/index", nil)
}

func (a *API) Stats(ctx context.Context) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/public/stats", nil)
}

func (a *API) Account(ctx context.Context) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/private/account", nil)
}

func (a *API) Buy(ctx context.Context, p OrderParams) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/private/buy", p.args())
}

func (a *API) Sell(ctx context.Context, p OrderParams) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/private/sell", p.args())
}

func (a *API) Cancel(ctx context.Context, orderID int64) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/private/cancel", map[string]any{"orderId": orderID})
}

// CancelAll cancels open orders of the given type ("all", "futures",
// "options"). An empty type means "all".
func (a *API) CancelAll(ctx context.Context, typ string) (json.RawMessage, error) {
	if typ == "" {
		typ = "all"
	}
	return a.r.Request(ctx, "/api/v1/private/cancelall", map[string]any{"type": typ})
}

func (a *API) Edit(ctx context.Context, orderID int64, quantity, price float64) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/private/edit", map[string]any{
		"orderId":  orderID,
		"quantity": quantity,
		"price":    price,
	})
}

// GetOpenOrders lists open orders, optionally filtered by instrument or order id.
func (a *API) GetOpenOrders(ctx context.Context, instrument string, orderID int64) (json.RawMessage, error) {
	args := map[string]any{}
	if instrument != "" {
		args["instrument"] = instrument
	}
	if orderID != 0 {
		args["orderId"] = orderID
	}
	return a.r.Request(ctx, "/api/v1/private/getopenorders", args)
}

func (a *API) Positions(ctx context.Context) (json.RawMessage, error) {
	return a.r.Request(ctx, "/api/v1/private/positions", nil)
}

func (a *API) OrderHistory(ctx context.Context, count int) (json.RawMessage, error) {
	args := map[string]any{}
	if count != 0 {
		args["count"] = count
	}
	return a.r.Request(ctx, "/api/v1/private/orderhistory", args)
}

// TradeHistory lists the account's trades. An empty instrument means "all".
func (a *API) TradeHistory(ctx context.Context, count int, instrument string, startTradeID int64) (json.RawMessage, error) {
	if instrument == "" {
		instrument = "all"
	}
	args := map[string]any{"instrument": instrument}
	if count != 0 {
		args["count"] = count
	}
	if startTradeID != 0 {
		args["startTradeId"] = startTradeID
	}
	return a.r.Request(ctx, "/api/v1/private/tradehistory", args)
}
