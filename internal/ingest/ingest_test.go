package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-rewards/internal/async"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository/memstore"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []async.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Shutdown(context.Context) {}

func (q *recordingQueue) Jobs() []async.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]async.Job(nil), q.jobs...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestParseDrop(t *testing.T) {
	d, err := ParseDrop("a.json", []byte(`{"customer_id":"8d7f3c2e-4b1a-4c59-9a57-6f1f0e1d2c3b","text":"TOTAL 10","confidence":0.8,"submitted_at":"2026-03-14T09:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "TOTAL 10", d.Text)
	require.NotNil(t, d.Confidence)
	assert.InDelta(t, 0.8, *d.Confidence, 1e-9)
	at, err := d.submittedAt()
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)))

	d, err = ParseDrop("b.yaml", []byte("customer_phone: \"+15550100\"\ntext: |\n  SUPER CENTRAL\n  TOTAL 10\n"))
	require.NoError(t, err)
	assert.Equal(t, "+15550100", d.CustomerPhone)
	assert.Contains(t, d.Text, "SUPER CENTRAL")

	cases := map[string]string{
		"missing text":     `{"customer_id":"8d7f3c2e-4b1a-4c59-9a57-6f1f0e1d2c3b"}`,
		"missing customer": `{"text":"TOTAL 10"}`,
		"unknown field":    `{"customer_id":"x","text":"t","extra":1}`,
		"not json":         `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDrop("c.json", []byte(body))
			assert.Error(t, err)
		})
	}
}

func TestIngestPathQueuesOnce(t *testing.T) {
	dir := t.TempDir()
	q := &recordingQueue{}
	ing := NewFSIngestor(q, nil, discard())
	customer := uuid.New()
	store := uuid.New()
	body := `{"customer_id":"` + customer.String() + `","store_id":"` + store.String() + `","text":"TOTAL 10"}`

	p := writeFile(t, dir, "one.json", body)
	res, err := ing.IngestPath(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.Len(t, res.HashHex, 64)

	// same content under another name is a duplicate
	p2 := writeFile(t, dir, "copy.json", body)
	res, err = ing.IngestPath(context.Background(), p2)
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, customer, jobs[0].Request.CustomerID)
	require.NotNil(t, jobs[0].Request.StoreID)
	assert.Equal(t, store, *jobs[0].Request.StoreID)
	assert.Equal(t, p, jobs[0].Source)
}

func TestIngestPathRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	q := &recordingQueue{}
	ing := NewFSIngestor(q, nil, discard())

	_, err := ing.IngestPath(context.Background(), writeFile(t, dir, "bad.json", `{"customer_id":"nope","text":"x"}`))
	assert.Error(t, err)
	_, err = ing.IngestPath(context.Background(), writeFile(t, dir, "phone.json", `{"customer_phone":"+1555","text":"x"}`))
	assert.Error(t, err)
	_, err = ing.IngestPath(context.Background(), writeFile(t, dir, "notes.txt", "hello"))
	assert.Error(t, err)
	assert.Empty(t, q.Jobs())
}

func TestIngestPathResolvesPhone(t *testing.T) {
	store := memstore.New()
	repos := store.Repositories()
	c, err := repos.Customers.Create(context.Background(), &entity.Customer{Name: "Ana", Phone: "+15550100"})
	require.NoError(t, err)

	q := &recordingQueue{}
	ing := NewFSIngestor(q, repos.Customers, discard())
	p := writeFile(t, t.TempDir(), "drop.yml", "customer_phone: \"+15550100\"\ntext: TOTAL 10\n")
	_, err = ing.IngestPath(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, q.Jobs(), 1)
	assert.Equal(t, c.ID, q.Jobs()[0].Request.CustomerID)
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	customer := uuid.New().String()
	writeFile(t, root, "a.json", `{"customer_id":"`+customer+`","text":"A"}`)
	writeFile(t, root, "b.json", `{"customer_id":"`+customer+`","text":"B"}`)
	writeFile(t, root, "broken.json", `{`)
	writeFile(t, root, "readme.md", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(root, ".hidden"), 0o755))
	writeFile(t, filepath.Join(root, ".hidden"), "c.json", `{"customer_id":"`+customer+`","text":"C"}`)

	q := &recordingQueue{}
	ing := NewFSIngestor(q, nil, discard())
	results, stats, err := ing.IngestDirectory(context.Background(), root, true)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.EqualValues(t, 3, stats.Matched)
	assert.EqualValues(t, 2, stats.Succeeded)
	assert.EqualValues(t, 1, stats.Failed)
	assert.Len(t, q.Jobs(), 2)

	_, _, err = ing.IngestDirectory(context.Background(), " ", false)
	assert.Error(t, err)
}

func TestWatchPicksUpNewFiles(t *testing.T) {
	root := t.TempDir()
	customer := uuid.New().String()
	writeFile(t, root, "existing.json", `{"customer_id":"`+customer+`","text":"OLD"}`)

	q := &recordingQueue{}
	ing := NewFSIngestor(q, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond}, ing, discard())
	}()

	require.Eventually(t, func() bool { return len(q.Jobs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	writeFile(t, root, "new.json", `{"customer_id":"`+customer+`","text":"NEW"}`)
	require.Eventually(t, func() bool { return len(q.Jobs()) == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestStartWatcherRequiresRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, discard())
	assert.Error(t, err)
}
