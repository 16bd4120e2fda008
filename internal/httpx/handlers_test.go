package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlacer struct {
	calls atomic.Int32
	fn    func(orders.PlaceOrderRequest) (orders.PlaceOrderResult, error)
}

func (p *fakePlacer) PlaceOrder(_ context.Context, req orders.PlaceOrderRequest) (orders.PlaceOrderResult, error) {
	p.calls.Add(1)
	return p.fn(req)
}

type fakePayments struct {
	confirm func(orders.ConfirmPaymentRequest) (*orders.Order, error)
	fail    func(intentID, userID string) (*orders.Order, error)
	// budget is the time left on the last call's context
	budget time.Duration
}

func (p *fakePayments) record(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		p.budget = time.Until(dl)
	}
}

func (p *fakePayments) ConfirmPayment(ctx context.Context, req orders.ConfirmPaymentRequest) (*orders.Order, error) {
	p.record(ctx)
	return p.confirm(req)
}

func (p *fakePayments) MarkPaymentFailed(ctx context.Context, intentID, userID string) (*orders.Order, error) {
	p.record(ctx)
	return p.fail(intentID, userID)
}

type fakeReader struct {
	orders map[string]*orders.Order
}

func (f *fakeReader) Order(_ context.Context, id string) (*orders.Order, error) {
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return nil, orders.ErrOrderNotFound
}

func (f *fakeReader) History(_ context.Context, userID string) ([]orders.Order, error) {
	if userID == "" {
		return nil, &orders.InvalidRequestError{Field: "user_id", Reason: "required"}
	}
	var out []orders.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

type memBus struct {
	mu     sync.Mutex
	topics []string
	sent   []events.Envelope
	err    error
}

func (b *memBus) Publish(_ context.Context, topic string, _ []byte, ev events.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.topics = append(b.topics, topic)
	b.sent = append(b.sent, ev)
	return nil
}

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func okPlacer() *fakePlacer {
	return &fakePlacer{fn: func(req orders.PlaceOrderRequest) (orders.PlaceOrderResult, error) {
		return orders.PlaceOrderResult{
			OrderID:         "ord-1",
			GatewayIntentID: "intent_1",
			Total:           decimal.RequireFromString("45"),
			Currency:        "INR",
			PaymentState:    orders.StatePending,
		}, nil
	}}
}

func newServer(h *OrdersHandler) http.Handler {
	if h.Log == nil {
		h.Log = discardLog
	}
	r := NewRouter()
	r.Route("/api/v1", h.Register)
	return r
}

func post(t *testing.T, h http.Handler, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func get(t *testing.T, h http.Handler, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if v != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}
	return rec.Code
}

func errorOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "body has no error object: %v", body)
	return e
}

const cartBody = `{"user_id":"u1","items":[{"product_id":"A","qty":2},{"product_id":"B","qty":1}],"total_price":"45.00","payment_method":"gateway"}`

func TestCreateOrder(t *testing.T) {
	var got orders.PlaceOrderRequest
	p := okPlacer()
	inner := p.fn
	p.fn = func(req orders.PlaceOrderRequest) (orders.PlaceOrderResult, error) {
		got = req
		return inner(req)
	}
	srv := newServer(&OrdersHandler{Placer: p})

	resp, body := post(t, srv, "/api/v1/orders/create-order", cartBody, nil)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "ord-1", body["order_id"])
	assert.Equal(t, "intent_1", body["gateway_intent_id"])
	assert.Equal(t, "45.00", body["total"])
	assert.EqualValues(t, 4500, body["amount"])

	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, orders.PaymentGateway, got.PaymentMethod)
	require.NotNil(t, got.ClaimedTotal)
	assert.Equal(t, "45", got.ClaimedTotal.String())
	assert.Len(t, got.Items, 2)
}

func TestCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
		check  func(t *testing.T, e map[string]any)
	}{
		{
			name:   "stock",
			err:    &orders.StockError{ProductID: "B", Requested: 3, Available: 1},
			status: http.StatusConflict,
			kind:   "InsufficientStock",
			check:  func(t *testing.T, e map[string]any) { assert.Equal(t, "B", e["product_id"]) },
		},
		{
			name:   "price",
			err:    &orders.PriceMismatchError{Claimed: decimal.RequireFromString("44"), Authoritative: decimal.RequireFromString("45")},
			status: http.StatusConflict,
			kind:   "PriceMismatch",
			check:  func(t *testing.T, e map[string]any) { assert.Equal(t, "45.00", e["authoritative_total"]) },
		},
		{name: "address", err: orders.ErrMissingAddress, status: http.StatusUnprocessableEntity, kind: "MissingAddress"},
		{name: "gateway", err: &orders.GatewayError{Op: "create intent", Err: errors.New("503")}, status: http.StatusBadGateway, kind: "GatewayUnavailable"},
		{
			name:   "storage",
			err:    errors.New("dial tcp 10.0.0.3:5432: connection refused"),
			status: http.StatusServiceUnavailable,
			kind:   "StorageUnavailable",
			check:  func(t *testing.T, e map[string]any) { assert.NotContains(t, e["message"], "10.0.0.3") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlacer{fn: func(orders.PlaceOrderRequest) (orders.PlaceOrderResult, error) {
				return orders.PlaceOrderResult{}, tt.err
			}}
			srv := newServer(&OrdersHandler{Placer: p})

			resp, body := post(t, srv, "/api/v1/orders/create-order", cartBody, nil)
			assert.Equal(t, tt.status, resp.Code)
			e := errorOf(t, body)
			assert.Equal(t, tt.kind, e["kind"])
			if tt.check != nil {
				tt.check(t, e)
			}
		})
	}
}

func TestCreateOrderRejectsGarbage(t *testing.T) {
	p := okPlacer()
	srv := newServer(&OrdersHandler{Placer: p})

	resp, body := post(t, srv, "/api/v1/orders/create-order", `{"user_id":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "InvalidRequest", errorOf(t, body)["kind"])
	assert.Zero(t, p.calls.Load())
}

func idempotencyStore(t *testing.T) *redisx.Idempotency {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisx.NewIdempotency(rdb)
}

func TestCreateOrderIdempotencyKeyReplays(t *testing.T) {
	p := okPlacer()
	srv := newServer(&OrdersHandler{Placer: p, Idem: idempotencyStore(t)})
	hdr := map[string]string{HeaderIdempotencyKey: "k-1"}

	first, firstBody := post(t, srv, "/api/v1/orders/create-order", cartBody, hdr)
	second, secondBody := post(t, srv, "/api/v1/orders/create-order", cartBody, hdr)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, firstBody, secondBody)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestCreateOrderIdempotencyKeyInFlight(t *testing.T) {
	idem := idempotencyStore(t)
	c, err := idem.Claim(context.Background(), "u1", "k-1")
	require.NoError(t, err)
	require.True(t, c.Acquired)

	p := okPlacer()
	srv := newServer(&OrdersHandler{Placer: p, Idem: idem})
	resp, body := post(t, srv, "/api/v1/orders/create-order", cartBody, map[string]string{HeaderIdempotencyKey: "k-1"})

	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "Conflict", errorOf(t, body)["kind"])
	assert.Zero(t, p.calls.Load())
}

func TestCreateOrderRetriableFailureFreesKey(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	p := okPlacer()
	inner := p.fn
	p.fn = func(req orders.PlaceOrderRequest) (orders.PlaceOrderResult, error) {
		if fail.Load() {
			return orders.PlaceOrderResult{}, &orders.GatewayError{Op: "create intent", Err: errors.New("timeout")}
		}
		return inner(req)
	}
	srv := newServer(&OrdersHandler{Placer: p, Idem: idempotencyStore(t)})
	hdr := map[string]string{HeaderIdempotencyKey: "k-2"}

	resp, _ := post(t, srv, "/api/v1/orders/create-order", cartBody, hdr)
	assert.Equal(t, http.StatusBadGateway, resp.Code)

	fail.Store(false)
	resp, body := post(t, srv, "/api/v1/orders/create-order", cartBody, hdr)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Empty(t, resp.Header().Get(HeaderReplayed))
	assert.Equal(t, "ord-1", body["order_id"])
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestVerifyPayment(t *testing.T) {
	pay := &fakePayments{confirm: func(req orders.ConfirmPaymentRequest) (*orders.Order, error) {
		if req.Signature != "good" {
			return nil, orders.ErrSignatureMismatch
		}
		return &orders.Order{ID: "ord-1", PaymentState: orders.StatePaid, GatewayPaymentID: req.GatewayPaymentID}, nil
	}}
	srv := newServer(&OrdersHandler{Payments: pay})
	url := "/api/v1/orders/verify-payment"

	resp, body := post(t, srv, url, `{"gateway_intent_id":"intent_1","gateway_payment_id":"pay_1","signature":"good"}`, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Paid", body["payment_state"])
	assert.Equal(t, "pay_1", body["gateway_payment_id"])

	resp, body = post(t, srv, url, `{"gateway_intent_id":"intent_1","gateway_payment_id":"pay_1","signature":"bad"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "SignatureMismatch", errorOf(t, body)["kind"])
}

func TestPaymentHandlersBoundTheirContext(t *testing.T) {
	pay := &fakePayments{
		confirm: func(orders.ConfirmPaymentRequest) (*orders.Order, error) {
			return &orders.Order{ID: "ord-1", PaymentState: orders.StatePaid}, nil
		},
		fail: func(string, string) (*orders.Order, error) {
			return &orders.Order{ID: "ord-1", PaymentState: orders.StateFailed}, nil
		},
	}
	srv := newServer(&OrdersHandler{Payments: pay})

	resp, _ := post(t, srv, "/api/v1/orders/verify-payment", `{"gateway_intent_id":"intent_1","gateway_payment_id":"pay_1","signature":"good"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Positive(t, pay.budget)
	assert.LessOrEqual(t, pay.budget, settleTimeout)

	pay.budget = 0
	resp, _ = post(t, srv, "/api/v1/orders/payment-failure", `{"gateway_intent_id":"intent_1","user_id":"u1"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Positive(t, pay.budget)
	assert.LessOrEqual(t, pay.budget, settleTimeout)
}

func TestPaymentFailure(t *testing.T) {
	var gotIntent, gotUser string
	pay := &fakePayments{fail: func(intentID, userID string) (*orders.Order, error) {
		gotIntent, gotUser = intentID, userID
		if intentID == "intent_paid" {
			return nil, orders.ErrAlreadyPaid
		}
		return &orders.Order{ID: "ord-1", PaymentState: orders.StateFailed}, nil
	}}
	srv := newServer(&OrdersHandler{Payments: pay})
	url := "/api/v1/orders/payment-failure"

	resp, body := post(t, srv, url, `{"gateway_intent_id":"intent_1","user_id":"u1"}`, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Failed", body["payment_state"])
	assert.Equal(t, "intent_1", gotIntent)
	assert.Equal(t, "u1", gotUser)

	resp, body = post(t, srv, url, `{"gateway_intent_id":"intent_paid","user_id":"u1"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "Conflict", errorOf(t, body)["kind"])

	resp, _ = post(t, srv, url, `{"gateway_intent_id":"intent_1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestReadEndpoints(t *testing.T) {
	reader := &fakeReader{orders: map[string]*orders.Order{
		"ord-1": {ID: "ord-1", UserID: "u1", PaymentState: orders.StatePaid},
	}}
	srv := newServer(&OrdersHandler{Reader: reader})

	var o orders.Order
	assert.Equal(t, http.StatusOK, get(t, srv, "/api/v1/orders/ord-1", &o))
	assert.Equal(t, orders.StatePaid, o.PaymentState)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/v1/orders/nope", nil))

	var hist historyResp
	assert.Equal(t, http.StatusOK, get(t, srv, "/api/v1/users/u2/orders", &hist))
	assert.Equal(t, 0, hist.TotalCount)
	assert.NotNil(t, hist.Orders)

	assert.Equal(t, http.StatusOK, get(t, srv, "/api/v1/users/u1/orders", &hist))
	assert.Equal(t, 1, hist.TotalCount)
}

func TestWebhookQueuesCallback(t *testing.T) {
	bus := &memBus{}
	r := NewRouter()
	r.Route("/api/v1", (&PaymentsHandler{Bus: bus, Service: "order-api", Log: discardLog}).Register)
	srv := http.Handler(r)
	url := "/api/v1/payments/webhook"

	resp, body := post(t, srv, url, `{"gateway_intent_id":"intent_1","gateway_payment_id":"pay_1","signature":"abc"}`, nil)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, "queued", body["status"])

	require.Len(t, bus.sent, 1)
	assert.Equal(t, events.TopicPaymentCallbacks, bus.topics[0])
	ev := bus.sent[0]
	assert.Equal(t, events.EventPaymentCallback, ev.EventType)
	assert.Equal(t, body["event_id"], ev.EventID)
	cb, err := events.Payload[events.PaymentCallbackPayload](ev)
	require.NoError(t, err)
	assert.Equal(t, "intent_1", cb.IntentID)
	assert.Equal(t, "pay_1", cb.PaymentID)
	assert.Equal(t, "abc", cb.Signature)

	resp, _ = post(t, srv, url, `{"gateway_intent_id":"intent_1","signature":"abc"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	bus.err = errors.New("broker down")
	resp, body = post(t, srv, url, `{"gateway_intent_id":"intent_1","gateway_payment_id":"pay_1","signature":"abc"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "StorageUnavailable", errorOf(t, body)["kind"])
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusPaymentRequired, statusOf(orders.KindPaymentFailed))
	assert.Equal(t, http.StatusNotFound, statusOf(orders.KindNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(orders.KindStorageUnavailable))
}
