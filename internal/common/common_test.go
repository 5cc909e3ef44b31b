package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGRPCStatus(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		err  error
		want codes.Code
	}{
		{NewAppError("NOT_FOUND", "receipt", ErrNotFound), codes.NotFound},
		{fmt.Errorf("wrapped: %w", ErrInvalidInput), codes.InvalidArgument},
		{NewAppError("PAYLOAD_MISMATCH", "scan", ErrPayloadMismatch), codes.InvalidArgument},
		{Conflict("reward", id, "claimed", "redeemed"), codes.Aborted},
		{NewAppError("REWARD_EXISTS", "dup", ErrRewardExists), codes.AlreadyExists},
		{NewAppError("ALREADY_EXISTS", "phone", ErrAlreadyExists), codes.AlreadyExists},
		{fmt.Errorf("%w: flag receipt: %w", ErrProcessingTimeout, ErrDatabase), codes.DeadlineExceeded},
		{NewAppError("REWARD_EXPIRED", "late", ErrRewardExpired), codes.FailedPrecondition},
		{NewAppError("INVALID_TRANSITION", "skip", ErrInvalidTransition), codes.FailedPrecondition},
		{NewAppError("CONFIG_UNAVAILABLE", "rules", ErrConfigUnavailable), codes.Unavailable},
		{NewAppError("DATABASE_ERROR", "insert", ErrDatabase), codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
		{PermissionDeniedError("no actor"), codes.PermissionDenied},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, status.Code(GRPCStatus(tc.err)), tc.err.Error())
	}
	assert.NoError(t, GRPCStatus(nil))
}

func TestConflictMessage(t *testing.T) {
	id := uuid.New()
	err := Conflict("receipt", id, "pending", "approved")
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Contains(t, err.Error(), id.String())
	assert.Contains(t, err.Error(), `expected status "pending", found "approved"`)
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "ignored"))
	err := WrapError(ErrNotFound, "load customer")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "load customer: resource not found", err.Error())
}

func TestValidator(t *testing.T) {
	conf := 1.2
	v := NewValidator().
		Field("name", "  ", Required).
		Field("phone", "+15550100", Required, Phone).
		Field("customer_id", "nope", UUID).
		Field("store_id", "", OptionalUUID).
		Field("note", strings.Repeat("x", 11), MaxLength(10)).
		Field("ocr_confidence", &conf, UnitInterval)

	require.True(t, v.HasErrors())
	var fields []string
	for _, e := range v.Errors() {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"name", "customer_id", "note", "ocr_confidence"}, fields)
	assert.Contains(t, v.ErrorMessage(), "must be a valid UUID")
	assert.Error(t, v.Error())

	err := ValidateAndReturnError(v)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPhone(t *testing.T) {
	for _, ok := range []string{"+15550100", "5550100123", "+521234567890"} {
		assert.Nil(t, Phone("phone", ok), ok)
	}
	for _, bad := range []string{"555-0100", "+1", "call me", "+1234567890123456"} {
		assert.NotNil(t, Phone("phone", bad), bad)
	}
}

func TestUnitInterval(t *testing.T) {
	var nilConf *float64
	assert.Nil(t, UnitInterval("c", nilConf))
	half, neg := 0.5, -0.1
	assert.Nil(t, UnitInterval("c", &half))
	assert.NotNil(t, UnitInterval("c", &neg))
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "system", ActorFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithActor(WithRequestID(ctx, "req-9"), "staff:lee")
	assert.Equal(t, "staff:lee", ActorFromContext(ctx))
	assert.Equal(t, "req-9", RequestIDFromContext(ctx))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_URL", "memory")
	t.Setenv("WORKERS", "8")
	t.Setenv("PIPELINE_TIMEOUT", "3s")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("QUEUE_SIZE", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, "memory", cfg.Database.DSN)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.Timeout)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 256, cfg.Pipeline.QueueSize)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("DB_URL", "")
	cfg := LoadConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidInput)

	cfg.Database.DSN = "memory"
	cfg.Pipeline.Timeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidInput)
}
