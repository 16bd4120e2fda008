package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// store is an in-memory stand-in for the Postgres catalog, reservations,
// ledger and users tables. One mutex plays the role of row locks.
type store struct {
	mu           sync.Mutex
	products     map[string]Product
	reservations map[string]map[string]*reservation
	orders       map[string]*Order
	byIntent     map[string]string
	history      map[string][]string
	users        map[string]User

	releaseErrs int // ReleaseAll fails this many times before succeeding
	releases    int
	createErr   error
}

type reservation struct {
	qty    int
	status string
}

func newStore() *store {
	return &store{
		products:     map[string]Product{},
		reservations: map[string]map[string]*reservation{},
		orders:       map[string]*Order{},
		byIntent:     map[string]string{},
		history:      map[string][]string{},
		users:        map[string]User{},
	}
}

func (s *store) addProduct(id string, price string, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = Product{ID: id, Name: "product " + id, Price: decimal.RequireFromString(price), Stock: stock}
}

func (s *store) stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func (s *store) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *store) GetProduct(_ context.Context, id string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (s *store) Reserve(_ context.Context, orderID, productID string, qty int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return false, 0, nil
	}
	if p.Stock < qty {
		return false, p.Stock, nil
	}
	p.Stock -= qty
	s.products[productID] = p
	if s.reservations[orderID] == nil {
		s.reservations[orderID] = map[string]*reservation{}
	}
	s.reservations[orderID][productID] = &reservation{qty: qty, status: "RESERVED"}
	return true, p.Stock, nil
}

func (s *store) ReleaseAll(_ context.Context, orderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	if s.releaseErrs > 0 {
		s.releaseErrs--
		return 0, errors.New("connection reset")
	}
	n := 0
	for pid, r := range s.reservations[orderID] {
		if r.status != "RESERVED" {
			continue
		}
		p := s.products[pid]
		p.Stock += r.qty
		s.products[pid] = p
		r.status = "RELEASED"
		n++
	}
	return n, nil
}

func (s *store) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, li := range o.Items {
		r := s.reservations[o.ID][li.ProductID]
		if r == nil || r.status != "RESERVED" {
			return ErrReservationLost
		}
	}
	for _, r := range s.reservations[o.ID] {
		r.status = "COMMITTED"
	}
	cp := *o
	s.orders[o.ID] = &cp
	if o.GatewayIntentID != "" {
		s.byIntent[o.GatewayIntentID] = o.ID
	}
	s.history[o.UserID] = append(s.history[o.UserID], o.ID)
	return nil
}

func (s *store) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *store) GetByIntent(ctx context.Context, intentID string) (*Order, error) {
	s.mu.Lock()
	id, ok := s.byIntent[intentID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

func (s *store) ListByUser(_ context.Context, userID string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, 0, len(s.history[userID]))
	for _, id := range s.history[userID] {
		out = append(out, *s.orders[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *store) Transition(_ context.Context, id string, from, to PaymentState, st Settlement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, ErrOrderNotFound
	}
	if o.PaymentState != from || !CanTransition(from, to) {
		return false, nil
	}
	o.PaymentState = to
	if st.GatewayPaymentID != "" {
		o.GatewayPaymentID = st.GatewayPaymentID
	}
	if st.Signature != "" {
		o.Signature = st.Signature
	}
	if st.AddressOverride != nil && !o.DeliveryAddress.Complete() {
		o.DeliveryAddress = *st.AddressOverride
	}
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *store) GetUser(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

var intentSeq atomic.Int64

type fakeGateway struct {
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, receipt string) (PaymentIntent, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return PaymentIntent{}, &GatewayError{Op: "create intent", Err: ctx.Err()}
		}
	}
	if g.err != nil {
		return PaymentIntent{}, g.err
	}
	return PaymentIntent{ID: fmt.Sprintf("intent_%d", intentSeq.Add(1)), Amount: amount, Currency: currency, Receipt: receipt}, nil
}

// verifier accepts "ok:<intent>|<payment>" as the valid signature.
type verifier struct{}

func (verifier) Verify(intentID, paymentID, signature string) bool {
	return signature == sign(intentID, paymentID)
}

func sign(intentID, paymentID string) string { return "ok:" + intentID + "|" + paymentID }

type recordingNotifier struct {
	mu      sync.Mutex
	placed  []string
	settled []PaymentState
}

func (n *recordingNotifier) OrderPlaced(_ context.Context, o *Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.placed = append(n.placed, o.ID)
}

func (n *recordingNotifier) PaymentSettled(_ context.Context, o *Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, o.PaymentState)
}

var homeAddress = Address{City: "Pune", State: "MH", HomeNumber: "12B", PinCode: "411001"}

func newCoordinator(s *store, g Gateway) (*Coordinator, *recordingNotifier) {
	n := &recordingNotifier{}
	return &Coordinator{
		Validator:            NewValidator(s, DefaultTolerance),
		Inventory:            s,
		Ledger:               s,
		Users:                s,
		Gateway:              g,
		Notifier:             n,
		CompensationAttempts: 3,
		CompensationBackoff:  time.Millisecond,
	}, n
}
