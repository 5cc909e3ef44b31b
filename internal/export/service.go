package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository"
)

const (
	receiptsSheet = "Receipts"
	rewardsSheet  = "Rewards"
	reviewSheet   = "Review Queue"
)

// Service is a tiny façade over repositories that produces XLSX bytes for exports.
type Service struct {
	repos  repository.Repositories
	logger *slog.Logger
}

// NewService creates a new export service.
func NewService(repos repository.Repositories, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repos: repos, logger: logger}
}

// ExportCustomerXLSX returns a workbook with the customer's receipts and
// rewards. from and to bound receipt submission days (inclusive, UTC); to
// without from covers everything up to to.
func (s *Service) ExportCustomerXLSX(ctx context.Context, customerID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	var fromDate, until *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		u := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		until = &u
	}

	if _, err := s.repos.Customers.GetByID(ctx, customerID); err != nil {
		return nil, err
	}
	recs, err := s.repos.Receipts.ListByCustomer(ctx, customerID, fromDate)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	if until != nil {
		kept := recs[:0]
		for _, r := range recs {
			if r.SubmittedAt.Before(*until) {
				kept = append(kept, r)
			}
		}
		recs = kept
	}
	rws, err := s.repos.Rewards.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("query rewards: %w", err)
	}
	names, err := s.storeNames(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := writeReceipts(f, receiptsSheet, recs, names); err != nil {
		return nil, err
	}
	if err := writeRewards(f, rewardsSheet, rws, names); err != nil {
		return nil, err
	}
	if err := finish(f, receiptsSheet); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"customer_id", customerID.String(),
		"receipts", len(recs),
		"rewards", len(rws),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// ExportReviewQueueXLSX lists receipts waiting for an administrator.
func (s *Service) ExportReviewQueueXLSX(ctx context.Context, limit int) ([]byte, error) {
	var recs []entity.Receipt
	for _, st := range []constants.ReceiptStatus{constants.ReceiptFlaggedManualRequested, constants.ReceiptFlagged} {
		batch, err := s.repos.Receipts.ListByStatus(ctx, st, limit)
		if err != nil {
			return nil, fmt.Errorf("query receipts: %w", err)
		}
		recs = append(recs, batch...)
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	names, err := s.storeNames(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := writeReceipts(f, reviewSheet, recs, names); err != nil {
		return nil, err
	}
	if err := finish(f, reviewSheet); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.review.ok", "rows", len(recs))
	return buf.Bytes(), nil
}

func (s *Service) storeNames(ctx context.Context) (map[uuid.UUID]string, error) {
	stores, err := s.repos.Stores.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	names := make(map[uuid.UUID]string, len(stores))
	for _, st := range stores {
		name := st.Name
		if st.BranchName != "" {
			name += " (" + st.BranchName + ")"
		}
		names[st.ID] = name
	}
	return names, nil
}

func storeName(names map[uuid.UUID]string, id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	if n, ok := names[*id]; ok {
		return n
	}
	return id.String()
}

func ensureSheet(f *excelize.File, sheet string, headers []string) error {
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	return nil
}

func writeReceipts(f *excelize.File, sheet string, recs []entity.Receipt, names map[uuid.UUID]string) error {
	headers := []string{
		"Submitted At",
		"Receipt ID",
		"Status",
		"Store",
		"Invoice",
		"Total",
		"Fraud Score",
		"Flags",
		"Reason",
	}
	if err := ensureSheet(f, sheet, headers); err != nil {
		return err
	}
	for i, r := range recs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, r.SubmittedAt.UTC().Format("2006-01-02 15:04"))
		write(2, r.ID.String())
		write(3, string(r.Status))
		write(4, storeName(names, r.StoreID))
		write(5, r.Fields.InvoiceNumber)
		if r.Fields.TotalAmount != nil {
			write(6, r.Fields.TotalAmount.StringFixed(2))
		}
		write(7, r.FraudScore)
		write(8, strings.Join(r.Flags, ", "))
		write(9, truncate(r.Reason, 140))
	}
	_ = f.SetColWidth(sheet, "A", "A", 18)
	_ = f.SetColWidth(sheet, "B", "B", 38)
	_ = f.SetColWidth(sheet, "C", "C", 24)
	_ = f.SetColWidth(sheet, "D", "D", 28)
	_ = f.SetColWidth(sheet, "E", "G", 14)
	_ = f.SetColWidth(sheet, "H", "H", 32)
	_ = f.SetColWidth(sheet, "I", "I", 60)
	return nil
}

func writeRewards(f *excelize.File, sheet string, rws []entity.Reward, names map[uuid.UUID]string) error {
	headers := []string{
		"Code",
		"Status",
		"Discount %",
		"Store",
		"Period",
		"Visit Multiple",
		"Issued At",
		"Expires At",
		"Used At",
	}
	if err := ensureSheet(f, sheet, headers); err != nil {
		return err
	}
	for i, r := range rws {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		store := r.StoreID
		write(1, r.Code)
		write(2, string(r.Status))
		write(3, r.DiscountPercent)
		write(4, storeName(names, &store))
		write(5, r.PeriodKey)
		write(6, r.VisitMultiple)
		write(7, r.IssuedAt.UTC().Format("2006-01-02 15:04"))
		write(8, r.ExpiresAt.UTC().Format("2006-01-02 15:04"))
		if r.UsedAt != nil {
			write(9, r.UsedAt.UTC().Format("2006-01-02 15:04"))
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 20)
	_ = f.SetColWidth(sheet, "B", "F", 14)
	_ = f.SetColWidth(sheet, "G", "I", 18)
	return nil
}

// finish drops excelize's default empty sheet and activates sheet.
func finish(f *excelize.File, sheet string) error {
	if sheet != "Sheet1" {
		if i, _ := f.GetSheetIndex("Sheet1"); i != -1 {
			if err := f.DeleteSheet("Sheet1"); err != nil {
				return err
			}
		}
	}
	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	return nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
