// Package ingest turns receipt drop files in an inbox directory into queued
// submissions.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joseph-ayodele/receipt-rewards/internal/async"
	"github.com/joseph-ayodele/receipt-rewards/internal/metrics"
	"github.com/joseph-ayodele/receipt-rewards/internal/receipts"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository"
)

// Allowed extensions for discovery (lowercase, without '.').
var defaultExts = map[string]struct{}{
	"json": {},
	"yaml": {},
	"yml":  {},
}

// Result is the per-file ingest outcome.
type Result struct {
	SourcePath   string
	HashHex      string
	Deduplicated bool
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// FSIngestor reads drop files from the local filesystem and enqueues them.
type FSIngestor struct {
	queue     async.Queue
	customers repository.CustomerRepository
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]string // content hash -> first path
}

// NewFSIngestor creates an ingestor that enqueues drops onto queue.
func NewFSIngestor(queue async.Queue, customers repository.CustomerRepository, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{
		queue:     queue,
		customers: customers,
		logger:    logger,
		seen:      make(map[string]string),
	}
}

// IngestPath parses one drop file and enqueues it. Identical content is
// submitted once per process even when the watcher reports it repeatedly.
func (i *FSIngestor) IngestPath(ctx context.Context, path string) (Result, error) {
	out := Result{SourcePath: path}
	if !allowed(path, defaultExts) {
		metrics.IngestFilesTotal.WithLabelValues("unsupported").Inc()
		return out, fmt.Errorf("unsupported or missing extension: %q", filepath.Ext(path))
	}
	body, err := os.ReadFile(path)
	if err != nil {
		metrics.IngestFilesTotal.WithLabelValues("failed").Inc()
		return out, fmt.Errorf("read: %w", err)
	}
	sum := sha256.Sum256(body)
	out.HashHex = hex.EncodeToString(sum[:])

	i.mu.Lock()
	first, dup := i.seen[out.HashHex]
	i.mu.Unlock()
	if dup {
		i.logger.Debug("ingest.duplicate", "path", path, "first_path", first)
		metrics.IngestFilesTotal.WithLabelValues("duplicate").Inc()
		out.Deduplicated = true
		return out, nil
	}

	req, err := i.request(ctx, path, body)
	if err != nil {
		i.logger.Warn("ingest.invalid", "path", path, "error", err)
		metrics.IngestFilesTotal.WithLabelValues("invalid").Inc()
		return out, err
	}

	// claim the hash before enqueueing so concurrent events cannot double submit
	i.mu.Lock()
	if first, dup := i.seen[out.HashHex]; dup {
		i.mu.Unlock()
		i.logger.Debug("ingest.duplicate", "path", path, "first_path", first)
		metrics.IngestFilesTotal.WithLabelValues("duplicate").Inc()
		out.Deduplicated = true
		return out, nil
	}
	i.seen[out.HashHex] = path
	i.mu.Unlock()

	if err := i.queue.Enqueue(ctx, async.Job{Request: req, Source: path}); err != nil {
		i.mu.Lock()
		delete(i.seen, out.HashHex)
		i.mu.Unlock()
		metrics.IngestFilesTotal.WithLabelValues("failed").Inc()
		return out, fmt.Errorf("enqueue: %w", err)
	}
	metrics.IngestFilesTotal.WithLabelValues("queued").Inc()
	i.logger.Info("ingest.queued", "path", path, "customer_id", req.CustomerID)
	return out, nil
}

func (i *FSIngestor) request(ctx context.Context, path string, body []byte) (receipts.SubmitRequest, error) {
	var req receipts.SubmitRequest
	d, err := ParseDrop(path, body)
	if err != nil {
		return req, err
	}
	id, ok, err := d.customerID()
	if err != nil {
		return req, err
	}
	if !ok {
		if i.customers == nil {
			return req, errors.New("customer_phone lookup is not available")
		}
		c, err := i.customers.GetByPhone(ctx, d.CustomerPhone)
		if err != nil {
			return req, err
		}
		id = c.ID
	}
	if req.StoreID, err = d.storeID(); err != nil {
		return req, err
	}
	if req.SubmittedAt, err = d.submittedAt(); err != nil {
		return req, err
	}
	req.CustomerID = id
	req.RawText = d.Text
	req.OCRConfidence = d.Confidence
	return req, nil
}

// IngestDirectory walks root, skips hidden if requested,
// and calls IngestPath for each file. Returns per-file results + aggregate stats.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []Result
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !allowed(path, defaultExts) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})

	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

func allowed(path string, exts map[string]struct{}) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	_, ok := exts[ext]
	return ok
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
