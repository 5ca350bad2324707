package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"storefront-payments/internal/core/domain"
)

const (
	statusSuccessful = "SUCCESSFUL"
	statusFailed     = "FAILED"
	statusRejected   = "REJECTED"
)

type collectionRequest struct {
	Reference string          `json:"reference"`
	MSISDN    string          `json:"msisdn"`
	Channel   string          `json:"channel"`
	Amount    decimal.Decimal `json:"amount"`
}

type collectionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HTTPGateway collects a payment through a provider's REST collections API.
// One instance serves one payment; it remembers the collection id between
// the request and the confirmation polls.
type HTTPGateway struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	method     domain.PaymentMethod
	momoNumber string
	reference  string
	logger     *slog.Logger

	collectionID string
}

func NewHTTPGateway(client *http.Client, baseURL, apiKey string, method domain.PaymentMethod, momoNumber, reference string, logger *slog.Logger) *HTTPGateway {
	return &HTTPGateway{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		method:     method,
		momoNumber: momoNumber,
		reference:  reference,
		logger:     logger,
	}
}

// RequestPayment opens a collection. A declined or failed collection is a
// plain false; transport problems and unexpected responses are errors.
func (g *HTTPGateway) RequestPayment(ctx context.Context, amount decimal.Decimal) (bool, error) {
	body, err := json.Marshal(collectionRequest{
		Reference: g.reference,
		MSISDN:    g.momoNumber,
		Channel:   g.method.Label,
		Amount:    amount,
	})
	if err != nil {
		return false, fmt.Errorf("encode collection request: %w", err)
	}

	var resp collectionResponse
	status, err := g.do(ctx, http.MethodPost, g.baseURL+"/collections", body, &resp)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusPaymentRequired || status == http.StatusUnprocessableEntity:
		g.logger.Info("provider declined collection", "reference", g.reference, "http_status", status)
		return false, nil
	case status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted:
		return false, fmt.Errorf("collection request returned %d: %w", status, domain.ErrGatewayUnavailable)
	}
	if resp.ID == "" {
		return false, fmt.Errorf("collection response without id: %w", domain.ErrGatewayUnavailable)
	}
	g.collectionID = resp.ID

	switch strings.ToUpper(resp.Status) {
	case statusFailed, statusRejected:
		return false, nil
	}
	return true, nil
}

// ConfirmPayment polls the collection once.
func (g *HTTPGateway) ConfirmPayment(ctx context.Context) (bool, error) {
	if g.collectionID == "" {
		return false, fmt.Errorf("no collection to confirm for %s: %w", g.reference, domain.ErrGatewayUnavailable)
	}
	var resp collectionResponse
	status, err := g.do(ctx, http.MethodGet, g.baseURL+"/collections/"+url.PathEscape(g.collectionID), nil, &resp)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("collection status returned %d: %w", status, domain.ErrGatewayUnavailable)
	}
	return strings.EqualFold(resp.Status, statusSuccessful), nil
}

func (g *HTTPGateway) do(ctx context.Context, method, endpoint string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	res, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%s %s: %v: %w", method, endpoint, err, domain.ErrGatewayUnavailable)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil && err != io.EOF {
			return res.StatusCode, fmt.Errorf("decode provider response: %v: %w", err, domain.ErrGatewayUnavailable)
		}
	}
	return res.StatusCode, nil
}
