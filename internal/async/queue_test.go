package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/receipts"
)

type stubSubmitter struct {
	calls atomic.Int32
	delay time.Duration
	fail  bool
}

func (s *stubSubmitter) Submit(ctx context.Context, req receipts.SubmitRequest) (*receipts.Result, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail {
		return nil, errors.New("boom")
	}
	return &receipts.Result{Receipt: entity.Receipt{ID: uuid.New(), CustomerID: req.CustomerID}}, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestQueueProcessesAllJobs(t *testing.T) {
	sub := &stubSubmitter{}
	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]bool{}
	)
	q := NewSubmissionQueue(sub, discard(), WithWorkers(3), WithQueueSize(2),
		WithResultFunc(func(job Job, res *receipts.Result, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.NoError(t, err)
			assert.Equal(t, job.Request.CustomerID, res.Receipt.CustomerID)
			seen[job.ID] = true
		}))

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Job{Request: receipts.SubmitRequest{CustomerID: uuid.New()}}))
	}
	q.Shutdown(context.Background())

	assert.EqualValues(t, n, sub.calls.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, n)
}

func TestQueueReportsFailures(t *testing.T) {
	sub := &stubSubmitter{fail: true}
	var failed atomic.Int32
	q := NewSubmissionQueue(sub, discard(), WithWorkers(1),
		WithResultFunc(func(_ Job, res *receipts.Result, err error) {
			if err != nil && res == nil {
				failed.Add(1)
			}
		}))
	require.NoError(t, q.Enqueue(context.Background(), Job{Source: "inbox/a.json"}))
	q.Shutdown(context.Background())
	assert.EqualValues(t, 1, failed.Load())
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	q := NewSubmissionQueue(&stubSubmitter{}, discard())
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{}), ErrQueueClosed)
}

func TestQueueEnqueueHonoursContext(t *testing.T) {
	sub := &stubSubmitter{delay: 200 * time.Millisecond}
	q := NewSubmissionQueue(sub, discard(), WithWorkers(1), WithQueueSize(1), WithJobTimeout(time.Second))
	defer q.Shutdown(context.Background())

	// one job running, one buffered; the third must wait
	require.NoError(t, q.Enqueue(context.Background(), Job{}))
	require.Eventually(t, func() bool { return sub.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, Job{}), context.DeadlineExceeded)
}
