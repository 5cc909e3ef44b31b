package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/internal/common"
)

// sqlStore is shared by the SQL repositories: statements are built with a
// dialect-aware builder and run straight on the driver, outside transactions.
type sqlStore struct {
	drv    *entsql.Driver
	sql    *entsql.DialectBuilder
	logger *slog.Logger
}

func newSQLStore(drv *entsql.Driver, logger *slog.Logger) sqlStore {
	return sqlStore{drv: drv, sql: entsql.Dialect(drv.Dialect()), logger: logger}
}

type querier interface {
	Query() (string, []any)
}

// exec runs a statement and returns the affected row count.
func (s sqlStore) exec(ctx context.Context, b querier) (int64, error) {
	q, args := b.Query()
	var res sql.Result
	if err := s.drv.Exec(ctx, q, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// query runs a SELECT and calls scan once per row. Rows are closed before
// returning so the single SQLite connection is free for the next statement.
func (s sqlStore) query(ctx context.Context, b querier, scan func(*entsql.Rows) error) error {
	q, args := b.Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(&rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func dbError(op string, err error) error {
	return common.NewAppError("DATABASE_ERROR", op, fmt.Errorf("%w: %w", common.ErrDatabase, err))
}

func notFound(kind string, id uuid.UUID) error {
	return common.NewAppError("NOT_FOUND", kind+" "+id.String()+" not found", common.ErrNotFound)
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// nullTime maps an optional timestamp onto a bind value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func uuidPtr(nu uuid.NullUUID) *uuid.UUID {
	if !nu.Valid {
		return nil
	}
	id := nu.UUID
	return &id
}

// isUnique reports a unique index violation from either driver.
func isUnique(err error) bool {
	return sqlgraph.IsUniqueConstraintError(err)
}
