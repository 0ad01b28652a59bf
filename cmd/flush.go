package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-collector/app/service"
)

var flushReason string

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Run one spool flush cycle",
	Long:  "Dispatch every pending spool file to the configured processors once and print the summary.",
	Run:   runFlush,
}

// init registers the flush command.
func init() {
	flushCmd.Flags().StringVar(&flushReason, "reason", "cli", "reason recorded in the flush history")
	rootCmd.AddCommand(flushCmd)
}

// runFlush executes a single flush cycle.
func runFlush(_ *cobra.Command, _ []string) {
	cfg, log := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SpoolFlushTimeout)
	defer cancel()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to build spool pipeline: %v", err)
	}
	defer p.Close()

	requestID := uuid.NewString()
	summary, err := p.spoolService.Flush(service.WithRequestID(ctx, requestID), flushReason)
	if errors.Is(err, service.ErrFlushInProgress) {
		log.WithField("request_id", requestID).Warn("Another process is flushing the spool")
		return
	}
	if err != nil {
		log.WithField("request_id", requestID).Errorf("Flush failed: %v", err)
		p.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)
}
