package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/render"
)

type errorDetail struct {
	Kind               orders.Kind `json:"kind"`
	Message            string      `json:"message"`
	ProductID          string      `json:"product_id,omitempty"`
	AuthoritativeTotal string      `json:"authoritative_total,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func statusOf(k orders.Kind) int {
	switch k {
	case orders.KindInvalidRequest, orders.KindSignatureMismatch:
		return http.StatusBadRequest
	case orders.KindPaymentFailed:
		return http.StatusPaymentRequired
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindInsufficientStock, orders.KindPriceMismatch, orders.KindConflict:
		return http.StatusConflict
	case orders.KindMissingAddress:
		return http.StatusUnprocessableEntity
	case orders.KindGatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// describe turns err into the status code and body sent to the client.
// Storage failures are reported without their internal message.
func describe(err error) (int, errorResponse) {
	kind := orders.KindOf(err)
	d := errorDetail{Kind: kind, Message: err.Error()}

	var (
		stockErr *orders.StockError
		priceErr *orders.PriceMismatchError
	)
	switch {
	case errors.As(err, &stockErr):
		d.ProductID = stockErr.ProductID
	case errors.As(err, &priceErr):
		d.AuthoritativeTotal = priceErr.Authoritative.StringFixed(2)
	case kind == orders.KindStorageUnavailable:
		d.Message = "service temporarily unavailable"
	}
	return statusOf(kind), errorResponse{Error: d}
}

func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, body := describe(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "kind", body.Error.Kind, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}

func badRequest(w http.ResponseWriter, r *http.Request, field, reason string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: errorDetail{
		Kind:    orders.KindInvalidRequest,
		Message: (&orders.InvalidRequestError{Field: field, Reason: reason}).Error(),
	}})
}
