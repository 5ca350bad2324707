package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"

	"storefront-payments/internal/config"
	"storefront-payments/internal/observability"
	"storefront-payments/internal/recorder"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		observability.SetupLogger("").Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.SetupLogger(cfg.App.Env)

	kafkaBrokers := cfg.Kafka.BootstrapServers
	if kafkaBrokers == "" {
		kafkaBrokers = "localhost:9092"
	}
	dlqTopic := cfg.Kafka.DLQTopic

	rootCmd := &cobra.Command{Use: "dlq-tool", SilenceUsage: true}
	rootCmd.PersistentFlags().StringVar(&kafkaBrokers, "brokers", kafkaBrokers, "Kafka broker addresses")
	rootCmd.PersistentFlags().StringVar(&dlqTopic, "dlq-topic", dlqTopic, "DLQ topic name")

	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "List dead-lettered payment outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			logger.Info("viewing latest messages", "topic", dlqTopic, "limit", limit)

			client, err := kgo.NewClient(
				kgo.SeedBrokers(strings.Split(kafkaBrokers, ",")...),
				kgo.ConsumeTopics(dlqTopic),
				kgo.FetchMaxWait(5*time.Second),
				kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
			)
			if err != nil {
				return fmt.Errorf("create consumer: %w", err)
			}
			defer client.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PARTITION:OFFSET\tORDER\tERROR_TYPE\tERROR_STRING")
			fmt.Fprintln(w, "----------------\t-----\t----------\t------------")

			msgCount := 0
			for msgCount < limit {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				fetches := client.PollFetches(ctx)
				cancel()
				if fetches.IsClientClosed() || len(fetches.Records()) == 0 {
					logger.Info("no more messages in topic")
					break
				}
				fetches.EachRecord(func(record *kgo.Record) {
					if msgCount >= limit {
						return
					}
					errorType, errorString := getErrorHeaders(record.Headers)
					fmt.Fprintf(w, "%d:%d\t%s\t%s\t%s\n", record.Partition, record.Offset, string(record.Key), errorType, errorString)
					msgCount++
				})
			}
			return w.Flush()
		},
	}
	viewCmd.Flags().Int("limit", 10, "Number of messages to show")

	retryCmd := &cobra.Command{
		Use:   "retry [partition:offset]",
		Short: "Re-publish one dead-lettered outcome by partition and offset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetTopic, _ := cmd.Flags().GetString("target-topic")
			force, _ := cmd.Flags().GetBool("force")
			partition, offset, err := parsePartitionOffset(args[0])
			if err != nil {
				return err
			}
			logger.Info("re-publishing message", "from_topic", dlqTopic, "partition", partition, "offset", offset, "to_topic", targetTopic)

			brokers := strings.Split(kafkaBrokers, ",")
			consumer, err := kgo.NewClient(
				kgo.SeedBrokers(brokers...),
				kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
					dlqTopic: {partition: kgo.NewOffset().At(offset)},
				}),
			)
			if err != nil {
				return fmt.Errorf("create consumer: %w", err)
			}
			defer consumer.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			fetches := consumer.PollFetches(ctx)
			if err := fetches.Err(); err != nil {
				return fmt.Errorf("read message: %w", err)
			}
			records := fetches.Records()
			if len(records) == 0 || records[0].Offset != offset {
				return errors.New("no message at the given offset")
			}
			record := records[0]

			// a record that still does not decode would only bounce back
			if _, err := recorder.Decode(record.Value); err != nil && !force {
				return fmt.Errorf("message still invalid, use --force to send anyway: %w", err)
			}

			producer, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
			if err != nil {
				return fmt.Errorf("create producer: %w", err)
			}
			defer producer.Close()

			retryRecord := &kgo.Record{
				Topic: targetTopic,
				Value: record.Value,
				Key:   record.Key,
			}
			if err := producer.ProduceSync(cmd.Context(), retryRecord).FirstErr(); err != nil {
				return fmt.Errorf("re-publish message: %w", err)
			}

			logger.Info("message sent for reprocessing")
			return nil
		},
	}
	retryCmd.Flags().String("target-topic", cfg.Kafka.Topic, "Topic to re-publish to")
	retryCmd.Flags().Bool("force", false, "Re-publish even if the outcome does not decode")

	rootCmd.AddCommand(viewCmd, retryCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// getErrorHeaders extracts error_type and error_string from Kafka headers.
func getErrorHeaders(headers []kgo.RecordHeader) (string, string) {
	errorType, errorString := "N/A", "N/A"
	for _, h := range headers {
		switch h.Key {
		case "error_type":
			errorType = string(h.Value)
		case "error_string":
			errorString = string(h.Value)
		}
	}
	return errorType, errorString
}

// parsePartitionOffset parses "partition:offset".
func parsePartitionOffset(arg string) (int32, int64, error) {
	parts := strings.Split(arg, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid format %q, expected partition:offset such as 0:123", arg)
	}
	partition, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil || partition < 0 {
		return 0, 0, fmt.Errorf("invalid partition %q", parts[0])
	}
	offset, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("invalid offset %q", parts[1])
	}
	return int32(partition), offset, nil
}
