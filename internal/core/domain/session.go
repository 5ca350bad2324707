package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionState is the position of a payment session in its lifecycle.
// States are ordered; a session only moves forward, except that FAILED and
// CLOSED are reachable from any non-terminal state.
type SessionState int

const (
	StateConnected SessionState = iota
	StateAwaitingRequest
	StateRequesting
	StateWaitingConfirmation
	StateAuthorized
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateConnected:           "CONNECTED",
	StateAwaitingRequest:     "AWAITING_REQUEST",
	StateRequesting:          "REQUESTING",
	StateWaitingConfirmation: "WAITING_CONFIRMATION",
	StateAuthorized:          "AUTHORIZED",
	StateFailed:              "FAILED",
	StateClosed:              "CLOSED",
}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further work happens in this state.
func (s SessionState) Terminal() bool {
	return s == StateAuthorized || s == StateFailed || s == StateClosed
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to SessionState) bool {
	switch {
	case from == StateClosed:
		return false
	case to == StateClosed:
		return true
	case from.Terminal():
		return false
	case to == StateFailed:
		return true
	default:
		return to > from && to != StateFailed
	}
}

// StatusText is the machine code sent to the client in every status message.
type StatusText string

const (
	StatusRequesting StatusText = "REQUESTING"
	StatusWaiting    StatusText = "WAITING"
	StatusAuthorized StatusText = "AUTHORIZED"
	StatusTimeout    StatusText = "TIMEOUT"
	StatusNotFound   StatusText = "NOTFOUND"
	StatusBadData    StatusText = "BADDATA"
	StatusConflict   StatusText = "CONFLICT"
	StatusRejected   StatusText = "REJECTED"
	StatusError      StatusText = "ERROR"
)

// Code is the HTTP-style numeric status paired with each status text.
func (t StatusText) Code() int {
	switch t {
	case StatusRequesting, StatusWaiting:
		return 102
	case StatusAuthorized:
		return 200
	case StatusBadData:
		return 400
	case StatusRejected:
		return 402
	case StatusNotFound:
		return 404
	case StatusTimeout:
		return 408
	case StatusConflict:
		return 409
	default:
		return 500
	}
}

// CloseCode is the WebSocket close code that ends a session.
type CloseCode int

const (
	CloseNormal             CloseCode = 1000
	CloseInternalError      CloseCode = 1011
	CloseRejected           CloseCode = 4002
	CloseOrderNotFound      CloseCode = 4004
	CloseMissingMomoNumber  CloseCode = 4006
	CloseMissingOrderNumber CloseCode = 4007
	CloseTimeout            CloseCode = 4008
	CloseConflict           CloseCode = 4009
)

// StatusMessage is the server -> client frame.
type StatusMessage struct {
	Status     int        `json:"status"`
	StatusText StatusText `json:"status_text"`
	Message    string     `json:"message"`
}

// NewStatus builds a status message with the numeric code for text.
func NewStatus(text StatusText, message string) StatusMessage {
	return StatusMessage{Status: text.Code(), StatusText: text, Message: message}
}

// PaymentRequest is the single client -> server frame that starts a session.
type PaymentRequest struct {
	OrderNumber FlexString `json:"order_number"`
	MomoNumber  FlexString `json:"momo_number"`
}

// Validate checks required fields. A missing order number is reported first.
func (r PaymentRequest) Validate() error {
	if strings.TrimSpace(string(r.OrderNumber)) == "" {
		return ErrMissingOrderNumber
	}
	if strings.TrimSpace(string(r.MomoNumber)) == "" {
		return ErrMissingMomoNumber
	}
	return nil
}

// FlexString accepts a JSON string or number. Storefront clients send the
// order number in either form.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", ErrMalformedRequest)
	}
	*f = FlexString(n.String())
	return nil
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeAuthorized   Outcome = "AUTHORIZED"
	OutcomeTimeout      Outcome = "TIMEOUT"
	OutcomeBadData      Outcome = "BADDATA"
	OutcomeNotFound     Outcome = "NOTFOUND"
	OutcomeConflict     Outcome = "CONFLICT"
	OutcomeRejected     Outcome = "REJECTED"
	OutcomeError        Outcome = "ERROR"
	OutcomeDisconnected Outcome = "DISCONNECTED"
)

// PaymentOutcome is the event emitted when a session reaches a terminal state.
type PaymentOutcome struct {
	EventID       uuid.UUID       `json:"event_id"`
	SessionID     uuid.UUID       `json:"session_id"`
	OrderNumber   string          `json:"order_number"`
	Outcome       Outcome         `json:"outcome"`
	CloseCode     CloseCode       `json:"close_code"`
	Attempts      int             `json:"attempts"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
