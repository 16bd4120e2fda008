package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	gw "github.com/gorilla/websocket"
)

type Conn = gw.Conn

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// OrderReader is the read side used to send the current state on connect.
type OrderReader interface {
	Order(ctx context.Context, id string) (*orders.Order, error)
}

type Handler struct {
	hub    *Hub
	orders OrderReader
	log    *slog.Logger
}

func NewHandler(hub *Hub, r OrderReader, log *slog.Logger) *Handler {
	return &Handler{hub: hub, orders: r, log: log}
}

// ServeWS streams payment-state updates of one order to its owner, starting
// with the current state.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	userID := r.Header.Get("X-User-ID")

	o, err := h.orders.Order(r.Context(), orderID)
	if err != nil || userID == "" || o.UserID != userID {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "order_id", orderID, "err", err)
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, 16),
		orderID: orderID,
	}
	// state awal masuk buffer sebelum register, jadi selalu terkirim duluan
	if b, err := json.Marshal(OrderUpdate{OrderID: orderID, PaymentState: string(o.PaymentState)}); err == nil {
		client.send <- b
	}
	if !client.hub.join(client) {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
