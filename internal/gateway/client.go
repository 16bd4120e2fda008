package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Client creates payment intents ("orders" on the gateway side) over the
// gateway REST API. Amounts go out in minor units.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type createIntentReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type intentResp struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type errorResp struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, receipt string) (orders.PaymentIntent, error) {
	body, err := json.Marshal(createIntentReq{Amount: orders.Cents(amount), Currency: currency, Receipt: receipt})
	if err != nil {
		return orders.PaymentIntent{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return orders.PaymentIntent{}, &orders.GatewayError{Op: "create intent", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return orders.PaymentIntent{}, &orders.GatewayError{Op: "create intent", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return orders.PaymentIntent{}, &orders.GatewayError{Op: "create intent", Err: err}
	}
	if resp.StatusCode/100 != 2 {
		var e errorResp
		_ = json.Unmarshal(raw, &e)
		msg := e.Error.Description
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return orders.PaymentIntent{}, &orders.GatewayError{Op: "create intent", Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
	}

	var out intentResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return orders.PaymentIntent{}, &orders.GatewayError{Op: "create intent", Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.ID == "" {
		return orders.PaymentIntent{}, &orders.GatewayError{Op: "create intent", Err: fmt.Errorf("response without intent id")}
	}
	return orders.PaymentIntent{
		ID:       out.ID,
		Amount:   orders.FromCents(out.Amount),
		Currency: out.Currency,
		Receipt:  out.Receipt,
	}, nil
}
