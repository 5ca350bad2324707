package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"storefront-payments/internal/core/domain"
	"storefront-payments/internal/core/ports"
)

const (
	writeWait      = 10 * time.Second
	maxRequestSize = 4096
)

// ErrChannelClosed is returned when the client connection is gone.
var ErrChannelClosed = errors.New("payment channel closed")

// PaymentSocketHandler upgrades storefront connections and runs one payment
// session per connection.
type PaymentSocketHandler struct {
	service  ports.PaymentSessionService
	upgrader websocket.Upgrader
	baseCtx  context.Context
	logger   *slog.Logger

	sessions sync.WaitGroup
}

// NewPaymentSocketHandler builds the handler. Sessions are cancelled when
// baseCtx is done, which is how shutdown reaches hijacked connections.
func NewPaymentSocketHandler(baseCtx context.Context, service ports.PaymentSessionService, allowedOrigins []string, logger *slog.Logger) *PaymentSocketHandler {
	return &PaymentSocketHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		baseCtx: baseCtx,
		logger:  logger,
	}
}

func (h *PaymentSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// counted before the upgrade, while http.Server.Shutdown still tracks the connection
	h.sessions.Add(1)
	defer h.sessions.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.baseCtx, cancel)
	defer stop()

	ch := newWSChannel(conn, cancel)
	go ch.readLoop()

	h.service.RunSession(ctx, ch)
}

// Wait blocks until every running session has finished, including publishing
// its outcome, or until ctx is done.
func (h *PaymentSocketHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// wsChannel adapts a WebSocket connection to ports.PaymentChannel.
// A single reader goroutine owns all reads; the first data frame is the
// payment request and any later frames are discarded.
type wsChannel struct {
	conn    *websocket.Conn
	cancel  context.CancelFunc
	request chan []byte
	done    chan struct{}

	writeMu sync.Mutex
	readErr error
}

func newWSChannel(conn *websocket.Conn, cancel context.CancelFunc) *wsChannel {
	conn.SetReadLimit(maxRequestSize)
	// the server's read timeout must not end a session waiting on a payer
	_ = conn.SetReadDeadline(time.Time{})
	return &wsChannel{
		conn:    conn,
		cancel:  cancel,
		request: make(chan []byte, 1),
		done:    make(chan struct{}),
	}
}

func (c *wsChannel) readLoop() {
	defer close(c.done)
	first := true
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			c.cancel()
			return
		}
		if first {
			first = false
			c.request <- data
		}
	}
}

func (c *wsChannel) ReadRequest(ctx context.Context) (domain.PaymentRequest, error) {
	var data []byte
	select {
	case data = <-c.request:
	case <-c.done:
		// a request may have arrived just before the connection dropped
		select {
		case data = <-c.request:
		default:
			return domain.PaymentRequest{}, fmt.Errorf("%w: %v", ErrChannelClosed, c.readErr)
		}
	case <-ctx.Done():
		return domain.PaymentRequest{}, ctx.Err()
	}

	var req domain.PaymentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		if errors.Is(err, domain.ErrMalformedRequest) {
			return domain.PaymentRequest{}, err
		}
		return domain.PaymentRequest{}, fmt.Errorf("decode payment request: %v: %w", err, domain.ErrMalformedRequest)
	}
	return req, nil
}

func (c *wsChannel) Send(ctx context.Context, msg domain.StatusMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *wsChannel) Close(code domain.CloseCode, reason string) error {
	msg := websocket.FormatCloseMessage(int(code), reason)
	return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
