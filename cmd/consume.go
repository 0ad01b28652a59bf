package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-collector/app/queue"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume queued messages",
	Long:  "Consume queued messages from Redis streams.",
}

// init registers consume subcommands.
func init() {
	consumeCmd.AddCommand(consumeFlushesCmd)
	rootCmd.AddCommand(consumeCmd)
}

var consumeFlushesCmd = &cobra.Command{
	Use:   "flushes [consumer_name]",
	Short: "Start the flush request consumer",
	Long:  "Start a worker that reads flush requests from the Redis stream and runs a spool flush cycle for each.",
	Args:  cobra.ExactArgs(1),
	Run:   runConsumeFlushes,
}

// runConsumeFlushes starts the flush request consumer worker.
func runConsumeFlushes(_ *cobra.Command, args []string) {
	consumerName := args[0]

	cfg, log := loadConfig()

	p, err := buildPipeline(context.Background(), cfg, log)
	if err != nil {
		log.Fatalf("Failed to build spool pipeline: %v", err)
	}
	defer p.Close()

	if err := p.rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	consumer := queue.NewFlushConsumer(p.rdb, p.spoolService, consumerName, cfg.SpoolFlushTimeout, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Received shutdown signal, stopping consumer...")
		cancel()
	}()

	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("Consumer error: %v", err)
	}

	log.Info("Consumer stopped")
}
