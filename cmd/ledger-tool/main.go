package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"storefront-payments/internal/adapters/storage/clickhouse"
	"storefront-payments/internal/adapters/storage/postgres"
	"storefront-payments/internal/config"
	"storefront-payments/internal/core/domain"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ledger-tool",
		Short:         "Inspect and seed the order payment ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.Path(), "Path to the config file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the ledger tables and the ClickHouse outcome table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			repo, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger schema ready")

			if cfg.ClickHouse.Addr == "" {
				return nil
			}
			store, err := clickhouse.Open(cmd.Context(), cfg.ClickHouse)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "outcome schema ready")
			return nil
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed-order [number] [amount]",
		Short: "Create an order with one allocated mobile money source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString("method")
			email, _ := cmd.Flags().GetString("email")
			if err := domain.DefaultPaymentMethods().Validate(method); err != nil {
				return err
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil || !amount.IsPositive() {
				return fmt.Errorf("amount must be a positive decimal, got %q", args[1])
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			repo, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			order, err := repo.SeedOrder(cmd.Context(), args[0], email, method, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s seeded (id %d, %s %s via %s)\n",
				order.Number, order.ID, order.TotalInclTax.StringFixed(2), order.Currency, method)
			return nil
		},
	}
	seedCmd.Flags().String("method", domain.MethodMTNMomo, "Payment method label")
	seedCmd.Flags().String("email", "", "Guest email")

	showCmd := &cobra.Command{
		Use:   "show-order [number]",
		Short: "Show an order and its first allocated payment source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			repo, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			order, err := repo.FindOrderByNumber(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ORDER\tTOTAL\tCURRENCY\tMETHOD\tALLOCATED\tDEBITED")
			source, err := repo.FirstAllocatedSource(cmd.Context(), order)
			switch {
			case err == nil:
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", order.Number, order.TotalInclTax.StringFixed(2), order.Currency,
					source.SourceType, source.AmountAllocated.StringFixed(2), source.AmountDebited.StringFixed(2))
			case errors.Is(err, domain.ErrNoPaymentSource):
				fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\n", order.Number, order.TotalInclTax.StringFixed(2), order.Currency)
			default:
				return err
			}
			return w.Flush()
		},
	}

	outcomesCmd := &cobra.Command{
		Use:   "outcomes [order-number]",
		Short: "Summarize recorded session outcomes, or list them for one order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := load()
			if err != nil {
				return err
			}
			store, err := clickhouse.Open(cmd.Context(), cfg.ClickHouse)
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			if len(args) == 1 {
				rows, err := store.Recent(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "OCCURRED AT\tOUTCOME\tCLOSE CODE\tATTEMPTS\tAMOUNT\tSESSION")
				for _, o := range rows {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", o.OccurredAt.Format(time.RFC3339), o.Outcome,
						o.CloseCode, o.Attempts, o.Amount.StringFixed(2), o.SessionID)
				}
				return w.Flush()
			}

			rows, err := store.Summary(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "OUTCOME\tSESSIONS\tAVG ATTEMPTS\tAMOUNT")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%.2f\t%s\n", r.Outcome, r.Sessions, r.AvgAttempts, r.Amount.StringFixed(2))
			}
			return w.Flush()
		},
	}
	outcomesCmd.Flags().Duration("since", 24*time.Hour, "Summary window")
	outcomesCmd.Flags().Int("limit", 20, "Rows to list for one order")

	tokenCmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue a signed token for the protected order API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.JWT.JWTSecret == "" {
				return errors.New("jwt.jwt_secret is not set")
			}
			token, err := issueToken(cfg.JWT.JWTSecret, args[0], ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")

	rootCmd.AddCommand(schemaCmd, seedCmd, showCmd, outcomesCmd, tokenCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openLedger(ctx context.Context, cfg *config.Config) (*postgres.Repository, error) {
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("postgres.dsn is not set")
	}
	return postgres.NewRepository(ctx, cfg.Postgres.DSN)
}

func issueToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
