package httpx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// PaymentsHandler takes gateway webhooks and queues them for the reconciler.
type PaymentsHandler struct {
	Bus     events.Publisher
	Service string
	Log     *slog.Logger
}

type webhookReq struct {
	GatewayIntentID  string          `json:"gateway_intent_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Signature        string          `json:"signature"`
	DeliveryAddress  json.RawMessage `json:"delivery_address,omitempty"`
}

type webhookResp struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments/webhook", h.webhook)
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "body", "invalid json")
		return
	}
	switch {
	case req.GatewayIntentID == "":
		badRequest(w, r, "gateway_intent_id", "required")
		return
	case req.GatewayPaymentID == "":
		badRequest(w, r, "gateway_payment_id", "required")
		return
	case req.Signature == "":
		badRequest(w, r, "signature", "required")
		return
	}

	ev, err := events.New(r.Context(), events.EventPaymentCallback, h.Service, req.GatewayIntentID, events.PaymentCallbackPayload{
		IntentID:  req.GatewayIntentID,
		PaymentID: req.GatewayPaymentID,
		Signature: req.Signature,
		Address:   req.DeliveryAddress,
	})
	if err == nil {
		err = h.Bus.Publish(r.Context(), events.TopicPaymentCallbacks, events.PartitionKey(req.GatewayIntentID), ev)
	}
	if err != nil {
		writeError(w, r, h.Log, fmt.Errorf("queue payment callback: %w", err))
		return
	}

	h.Log.Info("payment callback queued", "intent_id", req.GatewayIntentID, "event_id", ev.EventID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, webhookResp{Status: "queued", EventID: ev.EventID})
}
