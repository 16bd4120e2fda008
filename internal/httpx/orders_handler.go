package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	placeTimeout  = 12 * time.Second
	settleTimeout = 5 * time.Second
	readTimeout   = 3 * time.Second
)

type Placer interface {
	PlaceOrder(ctx context.Context, req orders.PlaceOrderRequest) (orders.PlaceOrderResult, error)
}

type Payments interface {
	ConfirmPayment(ctx context.Context, req orders.ConfirmPaymentRequest) (*orders.Order, error)
	MarkPaymentFailed(ctx context.Context, intentID, userID string) (*orders.Order, error)
}

type Reader interface {
	Order(ctx context.Context, id string) (*orders.Order, error)
	History(ctx context.Context, userID string) ([]orders.Order, error)
}

type Idempotency interface {
	Claim(ctx context.Context, userID, key string) (redisx.Claim, error)
	Complete(ctx context.Context, userID, key string, resp redisx.StoredResponse) error
	Release(ctx context.Context, userID, key string) error
}

type OrdersHandler struct {
	Placer   Placer
	Payments Payments
	Reader   Reader
	// Idem boleh nil, berarti Idempotency-Key diabaikan
	Idem Idempotency
	// WS serves GET /orders/{id}/ws when set.
	WS  http.HandlerFunc
	Log *slog.Logger
}

type createOrderReq struct {
	UserID          string             `json:"user_id"`
	Items           []orders.ItemInput `json:"items"`
	TotalPrice      *decimal.Decimal   `json:"total_price,omitempty"`
	DeliveryAddress *orders.Address    `json:"delivery_address,omitempty"`
	PaymentMethod   string             `json:"payment_method"`
}

type createOrderResp struct {
	OrderID         string `json:"order_id"`
	GatewayIntentID string `json:"gateway_intent_id,omitempty"`
	Total           string `json:"total"`
	// Amount is the total in minor units, as handed to the gateway checkout.
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	PaymentState string `json:"payment_state"`
}

type verifyPaymentReq struct {
	GatewayIntentID  string          `json:"gateway_intent_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Signature        string          `json:"signature"`
	DeliveryAddress  *orders.Address `json:"delivery_address,omitempty"`
}

type paymentFailureReq struct {
	GatewayIntentID string `json:"gateway_intent_id"`
	UserID          string `json:"user_id"`
}

type historyResp struct {
	TotalCount int            `json:"total_count"`
	Orders     []orders.Order `json:"orders"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders/create-order", h.createOrder)
	r.Post("/orders/verify-payment", h.verifyPayment)
	r.Post("/orders/payment-failure", h.paymentFailure)
	r.Get("/orders/{id}", h.getOrder)
	if h.WS != nil {
		r.Get("/orders/{id}/ws", h.WS)
	}
	r.Get("/users/{userId}/orders", h.userOrders)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "body", "invalid json")
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	claimed := false
	if key != "" && h.Idem != nil {
		if req.UserID == "" {
			badRequest(w, r, "user_id", "required")
			return
		}
		c, err := h.Idem.Claim(r.Context(), req.UserID, key)
		switch {
		case err != nil:
			// redis bukan sumber kebenaran, lanjut tanpa idempotency
			h.Log.Warn("idempotency claim failed", "user_id", req.UserID, "err", err)
		case c.Replay != nil:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderReplayed, "true")
			w.WriteHeader(c.Replay.Status)
			_, _ = w.Write(c.Replay.Body)
			return
		case c.InFlight():
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, errorResponse{Error: errorDetail{
				Kind:    orders.KindConflict,
				Message: "a request with this idempotency key is still in progress",
			}})
			return
		default:
			claimed = true
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), placeTimeout)
	defer cancel()

	res, err := h.Placer.PlaceOrder(ctx, orders.PlaceOrderRequest{
		UserID:          req.UserID,
		Items:           req.Items,
		ClaimedTotal:    req.TotalPrice,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   orders.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		if claimed {
			h.finishClaim(r.Context(), req.UserID, key, err, nil)
		}
		writeError(w, r, h.Log, err)
		return
	}

	body := createOrderResp{
		OrderID:         res.OrderID,
		GatewayIntentID: res.GatewayIntentID,
		Total:           res.Total.StringFixed(2),
		Amount:          orders.Cents(res.Total),
		Currency:        res.Currency,
		PaymentState:    string(res.PaymentState),
	}
	if claimed {
		h.finishClaim(r.Context(), req.UserID, key, nil, body)
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, body)
}

// finishClaim stores the outcome under the idempotency key. Retriable
// failures free the key so the client can try again with it.
func (h *OrdersHandler) finishClaim(ctx context.Context, userID, key string, placeErr error, body any) {
	ctx = context.WithoutCancel(ctx)
	if placeErr != nil && orders.Retriable(placeErr) {
		if err := h.Idem.Release(ctx, userID, key); err != nil {
			h.Log.Warn("idempotency release failed", "user_id", userID, "err", err)
		}
		return
	}

	status := http.StatusCreated
	if placeErr != nil {
		var eb errorResponse
		status, eb = describe(placeErr)
		body = eb
	}
	b, err := json.Marshal(body)
	if err == nil {
		err = h.Idem.Complete(ctx, userID, key, redisx.StoredResponse{Status: status, Body: b})
	}
	if err != nil {
		h.Log.Warn("idempotency complete failed", "user_id", userID, "err", err)
	}
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "body", "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
	defer cancel()

	o, err := h.Payments.ConfirmPayment(ctx, orders.ConfirmPaymentRequest{
		GatewayIntentID:  req.GatewayIntentID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		AddressOverride:  req.DeliveryAddress,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	render.JSON(w, r, o)
}

func (h *OrdersHandler) paymentFailure(w http.ResponseWriter, r *http.Request) {
	var req paymentFailureReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "body", "invalid json")
		return
	}
	if req.GatewayIntentID == "" {
		badRequest(w, r, "gateway_intent_id", "required")
		return
	}
	if req.UserID == "" {
		badRequest(w, r, "user_id", "required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
	defer cancel()

	o, err := h.Payments.MarkPaymentFailed(ctx, req.GatewayIntentID, req.UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	render.JSON(w, r, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	o, err := h.Reader.Order(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	render.JSON(w, r, o)
}

func (h *OrdersHandler) userOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	list, err := h.Reader.History(ctx, chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	render.JSON(w, r, historyResp{TotalCount: len(list), Orders: list})
}
