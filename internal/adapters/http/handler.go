package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"storefront-payments/internal/core/domain"
	"storefront-payments/internal/core/ports"
	"storefront-payments/internal/observability"
)

// PaymentMethodsHandler lists the mobile money methods a storefront can offer.
type PaymentMethodsHandler struct {
	methods *domain.PaymentMethods
	logger  *slog.Logger
}

func NewPaymentMethodsHandler(methods *domain.PaymentMethods, logger *slog.Logger) *PaymentMethodsHandler {
	return &PaymentMethodsHandler{methods: methods, logger: logger}
}

type paymentMethodsResponse struct {
	Methods []domain.PaymentMethod `json:"methods"`
}

func (h *PaymentMethodsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, paymentMethodsResponse{Methods: h.methods.Methods()}, h.logger)
}

// OrderPaymentHandler reports the payment state of an order.
type OrderPaymentHandler struct {
	ledger ports.OrderLedger
	logger *slog.Logger
}

func NewOrderPaymentHandler(ledger ports.OrderLedger, logger *slog.Logger) *OrderPaymentHandler {
	return &OrderPaymentHandler{ledger: ledger, logger: logger}
}

type orderPaymentResponse struct {
	OrderNumber     string          `json:"order_number"`
	Currency        string          `json:"currency"`
	TotalInclTax    decimal.Decimal `json:"total_incl_tax"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	AmountAllocated decimal.Decimal `json:"amount_allocated"`
	AmountDebited   decimal.Decimal `json:"amount_debited"`
	Paid            bool            `json:"paid"`
}

func (h *OrderPaymentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			logger = logger.With("operator", sub)
		}
	}

	number := strings.TrimSpace(chi.URLParam(r, "number"))
	if number == "" {
		writeJSONError(w, "order number required", http.StatusBadRequest, logger)
		return
	}

	order, err := h.ledger.FindOrderByNumber(r.Context(), number)
	if err != nil {
		writeLedgerError(w, err, logger)
		return
	}

	resp := orderPaymentResponse{
		OrderNumber:  order.Number,
		Currency:     order.Currency,
		TotalInclTax: order.TotalInclTax,
	}
	source, err := h.ledger.FirstAllocatedSource(r.Context(), order)
	switch {
	case err == nil:
		resp.PaymentMethod = source.SourceType
		resp.AmountAllocated = source.AmountAllocated
		resp.AmountDebited = source.AmountDebited
		resp.Paid = source.IsDebited()
	case errors.Is(err, domain.ErrNoPaymentSource):
	default:
		writeLedgerError(w, err, logger)
		return
	}

	logger.Info("order payment report served", "order_number", order.Number, "paid", resp.Paid)
	writeJSON(w, http.StatusOK, resp, logger)
}

func writeLedgerError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeJSONError(w, "order not found", http.StatusNotFound, logger)
	case errors.Is(err, domain.ErrStorageUnavailable):
		logger.Warn("temporary failure in external dependency", "error", err)
		writeJSONError(w, "service temporarily unavailable", http.StatusServiceUnavailable, logger)
	default:
		logger.Error("unexpected error reading order payment", "error", err)
		writeJSONError(w, "internal server error", http.StatusInternalServerError, logger)
	}
}
