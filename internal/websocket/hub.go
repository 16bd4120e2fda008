package websocket

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
)

type OrderUpdate struct {
	OrderID      string `json:"order_id"`
	PaymentState string `json:"payment_state"`
}

type Client struct {
	hub     *Hub
	conn    *Conn
	send    chan []byte
	orderID string
}

// Hub fans order updates out to the sockets watching each order.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan OrderUpdate
	clients    map[string]map[*Client]bool
	// done ditutup saat Run selesai
	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan OrderUpdate, 256),
		clients:    make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.orderID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			h.drop(c)
		case upd := <-h.broadcast:
			msg, _ := json.Marshal(upd)
			for c := range h.clients[upd.OrderID] {
				select {
				case c.send <- msg:
				default:
					// client lambat, putuskan
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = map[string]map[*Client]bool{}
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	set, ok := h.clients[c.orderID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.orderID)
	}
}

// join hands c to the hub. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Broadcast(ctx context.Context, u OrderUpdate) {
	select {
	case h.broadcast <- u:
	case <-ctx.Done():
	case <-h.done:
	}
}

// HandleEvent is the bus handler feeding payment settlements into the hub.
func (h *Hub) HandleEvent(ctx context.Context, ev events.Envelope) error {
	if ev.EventType != events.EventPaymentConfirmed && ev.EventType != events.EventPaymentFailed {
		return nil // ignore
	}
	p, err := events.Payload[events.PaymentSettledPayload](ev)
	if err != nil {
		return err
	}
	h.Broadcast(ctx, OrderUpdate{OrderID: p.OrderID, PaymentState: p.PaymentState})
	return nil
}
