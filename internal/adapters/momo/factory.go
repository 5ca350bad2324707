package momo

import (
	"log/slog"
	"net/http"

	"storefront-payments/internal/config"
	"storefront-payments/internal/core/domain"
	"storefront-payments/internal/core/ports"
	"storefront-payments/internal/observability"
)

// Factory builds per-payment gateways for the configured provider mode.
type Factory struct {
	cfg    config.GatewayConfig
	client *http.Client
	logger *slog.Logger
}

func NewFactory(cfg config.GatewayConfig, logger *slog.Logger) *Factory {
	return &Factory{
		cfg: cfg,
		client: &http.Client{
			Transport: observability.NewTracingTransport(http.DefaultTransport),
			Timeout:   cfg.HTTPTimeout,
		},
		logger: logger,
	}
}

func (f *Factory) NewGateway(method domain.PaymentMethod, momoNumber, reference string) ports.MobileMoneyGateway {
	logger := f.logger.With("payment_method", method.Label)
	if f.cfg.Mode == config.GatewayHTTP {
		return NewHTTPGateway(f.client, f.cfg.BaseURL, f.cfg.APIKey, method, momoNumber, reference, logger)
	}
	return NewSimulated(momoNumber, reference, logger, WithDelays(f.cfg.RequestDelay, f.cfg.ConfirmDelay))
}
