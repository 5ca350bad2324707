package domain

import "errors"

var (
	ErrMissingOrderNumber   = errors.New("order number is required")
	ErrMissingMomoNumber    = errors.New("momo number is required")
	ErrMalformedRequest     = errors.New("malformed payment request")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNoPaymentSource      = errors.New("order has no allocated payment source")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrOverDebit            = errors.New("debit exceeds allocated amount")
	ErrAlreadyDebited       = errors.New("payment source already debited in this session")
	ErrInvalidTransition    = errors.New("invalid payment session transition")
	ErrOrderLocked          = errors.New("order is being paid in another session")
	ErrGatewayUnavailable   = errors.New("mobile money provider is unavailable")
	ErrStorageUnavailable   = errors.New("database is unavailable")
)
