package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

var receiptColumns = []string{
	"id", "customer_id", "store_id", "raw_text", "ocr_confidence", "invoice_number",
	"fields", "confidences", "status", "reason", "flags", "fraud_score",
	"submitted_at", "decided_at", "audit",
}

type receiptRepository struct{ sqlStore }

// NewReceiptRepository creates a SQL-backed ReceiptRepository.
func NewReceiptRepository(drv *entsql.Driver, logger *slog.Logger) ReceiptRepository {
	return &receiptRepository{newSQLStore(drv, logger)}
}

// receiptJSON holds the JSON-encoded columns of a receipt row.
type receiptJSON struct {
	fields, confidences, flags, audit string
}

func encodeReceipt(rc *entity.Receipt) (receiptJSON, error) {
	var (
		out receiptJSON
		err error
	)
	if out.fields, err = toJSON(rc.Fields); err != nil {
		return out, err
	}
	conf := rc.Confidences
	if conf == nil {
		conf = entity.Confidences{}
	}
	if out.confidences, err = toJSON(conf); err != nil {
		return out, err
	}
	flags := rc.Flags
	if flags == nil {
		flags = []string{}
	}
	if out.flags, err = toJSON(flags); err != nil {
		return out, err
	}
	audit := rc.Audit
	if audit == nil {
		audit = []entity.AuditEntry{}
	}
	out.audit, err = toJSON(audit)
	return out, err
}

func invoiceKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func (r *receiptRepository) Create(ctx context.Context, rc *entity.Receipt) error {
	if rc.ID == uuid.Nil {
		rc.ID = uuid.New()
	}
	j, err := encodeReceipt(rc)
	if err != nil {
		return common.NewAppError("ENCODE_ERROR", "encode receipt", err)
	}
	var ocr any
	if rc.OCRConfidence != nil {
		ocr = *rc.OCRConfidence
	}
	ins := r.sql.Insert("receipts").
		Columns(receiptColumns...).
		Values(rc.ID, rc.CustomerID, nullUUID(rc.StoreID), rc.RawText, ocr, invoiceKey(rc.Fields.InvoiceNumber),
			j.fields, j.confidences, string(rc.Status), rc.Reason, j.flags, rc.FraudScore,
			rc.SubmittedAt.UTC(), nullTime(rc.DecidedAt), j.audit)
	if _, err := r.exec(ctx, ins); err != nil {
		if isUnique(err) {
			return common.NewAppError("ALREADY_EXISTS", "receipt "+rc.ID.String()+" already exists", common.ErrInvalidInput)
		}
		r.logger.Error("failed to create receipt", "receipt_id", rc.ID, "error", err)
		return dbError("create receipt", err)
	}
	return nil
}

func (r *receiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Receipt, error) {
	out, err := r.list(ctx, entsql.EQ("id", id), 0)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("receipt", id)
	}
	return &out[0], nil
}

func (r *receiptRepository) UpdateIfStatus(ctx context.Context, rc *entity.Receipt, expected constants.ReceiptStatus) error {
	j, err := encodeReceipt(rc)
	if err != nil {
		return common.NewAppError("ENCODE_ERROR", "encode receipt", err)
	}
	var ocr any
	if rc.OCRConfidence != nil {
		ocr = *rc.OCRConfidence
	}
	// customer, raw text and submission time are never rewritten
	upd := r.sql.Update("receipts").
		Set("store_id", nullUUID(rc.StoreID)).
		Set("ocr_confidence", ocr).
		Set("invoice_number", invoiceKey(rc.Fields.InvoiceNumber)).
		Set("fields", j.fields).
		Set("confidences", j.confidences).
		Set("status", string(rc.Status)).
		Set("reason", rc.Reason).
		Set("flags", j.flags).
		Set("fraud_score", rc.FraudScore).
		Set("decided_at", nullTime(rc.DecidedAt)).
		Set("audit", j.audit).
		Where(entsql.And(entsql.EQ("id", rc.ID), entsql.EQ("status", string(expected))))
	n, err := r.exec(ctx, upd)
	if err != nil {
		r.logger.Error("failed to update receipt", "receipt_id", rc.ID, "error", err)
		return dbError("update receipt", err)
	}
	if n > 0 {
		return nil
	}
	cur, err := r.GetByID(ctx, rc.ID)
	if err != nil {
		return err
	}
	return common.Conflict("receipt", rc.ID, string(expected), string(cur.Status))
}

func (r *receiptRepository) FindByInvoice(ctx context.Context, invoiceNumber string) ([]entity.Receipt, error) {
	key := invoiceKey(invoiceNumber)
	if key == "" {
		return nil, nil
	}
	return r.list(ctx, entsql.EQ("invoice_number", key), 0)
}

func (r *receiptRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, since *time.Time) ([]entity.Receipt, error) {
	where := entsql.EQ("customer_id", customerID)
	if since != nil {
		where = entsql.And(where, entsql.GTE("submitted_at", since.UTC()))
	}
	return r.list(ctx, where, 0)
}

func (r *receiptRepository) ListByStatus(ctx context.Context, status constants.ReceiptStatus, limit int) ([]entity.Receipt, error) {
	return r.list(ctx, entsql.EQ("status", string(status)), limit)
}

// list returns matching receipts ordered by submission time.
func (r *receiptRepository) list(ctx context.Context, where *entsql.Predicate, limit int) ([]entity.Receipt, error) {
	t := r.sql.Table("receipts")
	sel := r.sql.Select(receiptColumns...).From(t).Where(where)
	sel = sel.OrderBy(sel.C("submitted_at"), sel.C("id"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	var out []entity.Receipt
	err := r.query(ctx, sel, func(rows *entsql.Rows) error {
		rc, err := scanReceipt(rows)
		if err != nil {
			return err
		}
		out = append(out, rc)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list receipts", "error", err)
		return nil, dbError("list receipts", err)
	}
	return out, nil
}

func scanReceipt(rows *entsql.Rows) (entity.Receipt, error) {
	var (
		rc                         entity.Receipt
		store                      uuid.NullUUID
		ocr                        sql.NullFloat64
		invoice, status            string
		fields, conf, flags, audit []byte
		decided                    sql.NullTime
	)
	if err := rows.Scan(&rc.ID, &rc.CustomerID, &store, &rc.RawText, &ocr, &invoice,
		&fields, &conf, &status, &rc.Reason, &flags, &rc.FraudScore,
		&rc.SubmittedAt, &decided, &audit); err != nil {
		return rc, err
	}
	rc.StoreID = uuidPtr(store)
	if ocr.Valid {
		v := ocr.Float64
		rc.OCRConfidence = &v
	}
	rc.Status = constants.ReceiptStatus(status)
	rc.SubmittedAt = rc.SubmittedAt.UTC()
	rc.DecidedAt = timePtr(decided)
	for _, c := range []struct {
		raw []byte
		dst any
	}{{fields, &rc.Fields}, {conf, &rc.Confidences}, {flags, &rc.Flags}, {audit, &rc.Audit}} {
		if err := fromJSON(c.raw, c.dst); err != nil {
			return rc, err
		}
	}
	if len(rc.Flags) == 0 {
		rc.Flags = nil
	}
	if len(rc.Audit) == 0 {
		rc.Audit = nil
	}
	return rc, nil
}
