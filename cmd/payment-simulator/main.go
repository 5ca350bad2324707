package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/gorilla/websocket"

	"storefront-payments/internal/core/domain"
)

type paymentRequest struct {
	OrderNumber string `json:"order_number"`
	MomoNumber  string `json:"momo_number"`
}

func main() {
	target := flag.String("target", "ws://localhost:8080/wbs/pay/", "Payment session endpoint")
	orders := flag.String("orders", "22333", "Comma separated order numbers to pay")
	every := flag.Duration("every", 0, "Repeat the run at this interval (0 runs once)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	numbers := strings.Split(*orders, ",")
	log.Printf("Starting simulator: target=%s, orders=%d", *target, len(numbers))

	for {
		var wg sync.WaitGroup
		for _, n := range numbers {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			wg.Add(1)
			go func(orderNumber string) {
				defer wg.Done()
				runSession(ctx, *target, orderNumber)
			}(n)
		}
		wg.Wait()

		if *every <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			log.Println("Shutting down simulator...")
			return
		case <-time.After(*every):
		}
	}
}

// runSession plays the storefront side of one payment and logs every status.
func runSession(ctx context.Context, target, orderNumber string) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		log.Printf("ERROR: order %s: dial: %v", orderNumber, err)
		return
	}
	defer conn.Close()

	// closing the socket is how a storefront abandons a payment
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	req := paymentRequest{OrderNumber: orderNumber, MomoNumber: faker.E164PhoneNumber()}
	if err := conn.WriteJSON(req); err != nil {
		log.Printf("ERROR: order %s: send request: %v", orderNumber, err)
		return
	}
	log.Printf("INFO: order %s: requested payment from %s", orderNumber, req.MomoNumber)

	for {
		var msg domain.StatusMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				log.Printf("INFO: order %s: session closed with %d %s", orderNumber, ce.Code, ce.Text)
			} else if ctx.Err() == nil {
				log.Printf("WARN: order %s: read: %v", orderNumber, err)
			}
			return
		}
		log.Printf("INFO: order %s: %d %s %q", orderNumber, msg.Status, msg.StatusText, msg.Message)
	}
}
