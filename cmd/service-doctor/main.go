package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/fatih/color"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	"storefront-payments/internal/config"
	"storefront-payments/internal/observability"
)

// errNotConfigured marks a dependency the config leaves out on purpose.
var errNotConfigured = errors.New("not configured")

// Check describes one diagnostic check.
type Check struct {
	Name     string
	Func     func(ctx context.Context) error
	Error    error
	Duration time.Duration
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	skipColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
)

func main() {
	logger := observability.SetupLogger("development")
	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	checks := []Check{
		{Name: "Payments API", Func: func(ctx context.Context) error {
			return checkHTTPHealth(ctx, localURL(cfg.Server.Port)+"/health", logger)
		}},
		{Name: "PostgreSQL", Func: func(ctx context.Context) error {
			return checkPostgres(ctx, cfg.Postgres.DSN, logger)
		}},
		{Name: "Redis", Func: func(ctx context.Context) error {
			return checkRedis(ctx, cfg.Redis.Addr, logger)
		}},
		{Name: "Kafka Cluster", Func: func(ctx context.Context) error {
			return checkKafka(ctx, cfg.Kafka.BootstrapServers)
		}},
		{Name: "ClickHouse", Func: func(ctx context.Context) error {
			return checkClickHouse(ctx, cfg.ClickHouse, logger)
		}},
		{Name: "Mobile Money Provider", Func: func(ctx context.Context) error {
			if cfg.Gateway.Mode != config.GatewayHTTP {
				return errNotConfigured
			}
			return checkReachable(ctx, cfg.Gateway.BaseURL, logger)
		}},
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Println("Running dependency diagnostics...")

	for i := range checks {
		wg.Add(1)
		go func(c *Check) {
			defer wg.Done()
			start := time.Now()
			c.Error = c.Func(ctx)
			c.Duration = time.Since(start)
		}(&checks[i])
	}
	wg.Wait()

	fmt.Println("\n--- Diagnostics report ---")
	hasErrors := false
	for _, c := range checks {
		d := c.Duration.Round(time.Millisecond)
		switch {
		case c.Error == nil:
			fmt.Printf("[%s] %-25s (%v)\n", okColor.Sprint("  OK  "), c.Name, d)
		case errors.Is(c.Error, errNotConfigured):
			fmt.Printf("[%s] %-25s\n", skipColor.Sprint(" SKIP "), c.Name)
		default:
			hasErrors = true
			fmt.Printf("[%s] %-25s (%v) - %v\n", failColor.Sprint("FAILED"), c.Name, d, c.Error)
		}
	}

	if hasErrors {
		failColor.Println("\nDiagnostics found problems.")
		os.Exit(1)
	}
	okColor.Println("\nAll systems healthy.")
}

func localURL(port string) string {
	if strings.HasPrefix(port, ":") {
		return "http://localhost" + port
	}
	if !strings.HasPrefix(port, "http") {
		return "http://" + port
	}
	return port
}

func checkHTTPHealth(ctx context.Context, url string, logger *slog.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close HTTP response", "error", err)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return nil
}

// checkReachable only requires an HTTP answer; provider APIs rarely expose a health route.
func checkReachable(ctx context.Context, url string, logger *slog.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	if err := resp.Body.Close(); err != nil {
		logger.Error("failed to close HTTP response", "error", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("provider answered %s", resp.Status)
	}
	return nil
}

func checkPostgres(ctx context.Context, dsn string, logger *slog.Logger) error {
	if dsn == "" {
		return errNotConfigured
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(ctx); err != nil {
			logger.Error("failed to close Postgres connection", "error", err)
		}
	}()
	return conn.Ping(ctx)
}

func checkRedis(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		return errNotConfigured
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close Redis", "error", err)
		}
	}()
	return rdb.Ping(ctx).Err()
}

func checkKafka(ctx context.Context, servers string) error {
	if servers == "" {
		return errNotConfigured
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(servers, ",")...),
		kgo.DialTimeout(5*time.Second),
	)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Ping(ctx)
}

func checkClickHouse(ctx context.Context, cfg config.ClickHouseConfig, logger *slog.Logger) error {
	if cfg.Addr == "" {
		return errNotConfigured
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close ClickHouse connection", "error", err)
		}
	}()
	return conn.Ping(ctx)
}
