package controller

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/cassiomorais/onramp/internal/domain/order"
	"github.com/cassiomorais/onramp/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// OrderController serves order submission, provider callbacks and ledger reads.
type OrderController struct {
	svc *service.OrderService
}

func NewOrderController(svc *service.OrderService) *OrderController {
	return &OrderController{svc: svc}
}

// CreateOrder handles POST /create-order.
func (h *OrderController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := h.svc.PlaceOrder(r.Context(), req.toService(clientIP(r), r.UserAgent()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !outcome.Recorded {
		zerolog.Ctx(r.Context()).Warn().Str("order_id", outcome.OrderID).Msg("Order outcome not recorded in ledger")
	}
	writeJSON(w, outcomeStatus(outcome), toOrderResponse(outcome))
}

// outcomeStatus maps an order outcome to its HTTP status.
func outcomeStatus(o *service.OrderOutcome) int {
	switch {
	case o.Success:
		return http.StatusCreated
	case o.Cause == nil:
		return http.StatusUnprocessableEntity
	case errors.Is(o.Cause, domainErrors.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(o.Cause, domainErrors.ErrProviderTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Callback handles POST /callback.
func (h *OrderController) Callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.svc.HandleCallback(r.Context(), req.toService())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{Success: true, Transaction: toTransactionResponse(t)})
}

// ListTransactions handles GET /transactions.
func (h *OrderController) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := h.svc.ListTransactions(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionList(page))
}

// GetTransaction handles GET /transactions/{orderId}.
func (h *OrderController) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTransaction(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TransactionEnvelope{Success: true, Data: toTransactionResponse(t)})
}

// parseFilter reads the list query. Malformed page or limit values fall back
// to the defaults; an unknown status is rejected.
func parseFilter(r *http.Request) (order.Filter, error) {
	q := r.URL.Query()
	f := order.Filter{
		CurrencyFrom: q.Get("currencyFrom"),
		ProviderCode: q.Get("providerCode"),
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))

	if raw := q.Get("status"); raw != "" {
		s, err := order.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = &s
	}
	return f, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
