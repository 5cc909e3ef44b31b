package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/internal/app"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir      = flag.String("dir", "", "directory of receipt drop files to submit (required)")
		out      = flag.String("out", "", "output XLSX file path (optional, defaults to parent directory)")
		customer = flag.String("customer", "", "export this customer's receipts and rewards instead of the review queue")
		fromStr  = flag.String("from", "", "from date YYYY-MM-DD (customer export)")
		toStr    = flag.String("to", "", "to date YYYY-MM-DD (customer export)")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "receipts.xlsx")
	}

	var customerID uuid.UUID
	if *customer != "" {
		id, err := uuid.Parse(*customer)
		if err != nil {
			printError("Error: --customer must be a UUID: %v\n", err)
			os.Exit(1)
		}
		customerID = id
	}
	from, err := parseDay(*fromStr)
	if err != nil {
		printError("Error: invalid --from date format, use YYYY-MM-DD: %v\n", err)
		os.Exit(1)
	}
	to, err := parseDay(*toStr)
	if err != nil {
		printError("Error: invalid --to date format, use YYYY-MM-DD: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	logger.Info("starting ingestion", "dir", *dir)
	_, stats, err := a.Ingestor.IngestDirectory(ctx, *dir, true)
	if err != nil {
		logger.Error("failed to ingest directory", "error", err)
		a.Close(ctx)
		os.Exit(1)
	}
	// drain every queued submission before exporting
	a.Queue.Shutdown(ctx)
	logger.Info("ingestion complete",
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"deduplicated", stats.Deduplicated)

	var xlsxBytes []byte
	if customerID != uuid.Nil {
		xlsxBytes, err = a.Exports.ExportCustomerXLSX(ctx, customerID, from, to)
	} else {
		xlsxBytes, err = a.Exports.ExportReviewQueueXLSX(ctx, 0)
	}
	if err != nil {
		logger.Error("failed to export", "error", err)
		a.Close(ctx)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsxBytes, 0644); err != nil {
		logger.Error("failed to write output file", "error", err)
		a.Close(ctx)
		os.Exit(1)
	}
	a.Close(ctx)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Files submitted: %d\n", stats.Succeeded)
	fmt.Printf("- Duplicates skipped: %d\n", stats.Deduplicated)
	fmt.Printf("- Failures: %d\n", stats.Failed)
	fmt.Printf("- Output: %s\n", *out)
}

func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
