package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/extract"
	"github.com/joseph-ayodele/receipt-rewards/internal/rules"
	"github.com/joseph-ayodele/receipt-rewards/internal/settings"
)

// extract reads recognized receipt text (a file argument or stdin), prints
// the extracted fields and, with -tax-id, the verdict the engine would reach
// for a first-time customer at that store.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		rulesFile = flag.String("rules", "", "rules YAML file (defaults when empty)")
		taxID     = flag.String("tax-id", "", "tax id of the store to evaluate against")
		branch    = flag.String("branch", "", "branch name of that store")
		ocrConf   = flag.Float64("ocr-confidence", -1, "recognizer confidence 0..1 (omit when unknown)")
	)
	flag.Parse()

	text, err := readInput(flag.Args())
	if err != nil {
		logger.Error("read input", "error", err)
		os.Exit(2)
	}

	vals := settings.Defaults()
	if *rulesFile != "" {
		if vals, err = (settings.FileSource{Path: *rulesFile}).Load(context.Background()); err != nil {
			logger.Error("load rules", "rules_file", *rulesFile, "error", err)
			os.Exit(1)
		}
	}
	snap, err := settings.NewSnapshot(vals)
	if err != nil {
		logger.Error("invalid rules", "error", err)
		os.Exit(1)
	}

	var conf *float64
	if *ocrConf >= 0 {
		conf = ocrConf
	}
	res := extract.New(extract.WithLocation(snap.Location())).ExtractWithConfidence(text, conf)
	out := map[string]any{
		"fields":      res.Fields,
		"confidences": res.Confidences,
	}

	if *taxID != "" {
		store := entity.Store{
			ID:         uuid.New(),
			Name:       "store",
			TaxID:      settings.NormalizeTaxID(*taxID),
			BranchName: *branch,
			Active:     true,
		}
		out["verdict"] = rules.NewEngine().Evaluate(res.Fields, res.Confidences, rules.EvalContext{
			ReceiptID:   uuid.New(),
			KnownStores: []entity.Store{store},
			SubmittedAt: time.Now(),
		}, snap)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readInput(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(args[0])
	return string(b), err
}
