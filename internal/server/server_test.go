package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/receipts"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository/memstore"
	"github.com/joseph-ayodele/receipt-rewards/internal/rewards"
	"github.com/joseph-ayodele/receipt-rewards/internal/settings"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	conn  *grpc.ClientConn
	repos repository.Repositories
	clock *clock
	store *entity.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	repos := memstore.New().Repositories()
	c := &clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}

	store, err := repos.Stores.Create(ctx, &entity.Store{Name: "Super Central", TaxID: "123456789", BranchName: "Downtown", Active: true})
	require.NoError(t, err)

	provider, err := settings.NewStaticProvider(settings.Defaults())
	require.NoError(t, err)
	mgr := rewards.NewManager(repos.Rewards, repos.Customers, nil, rewards.WithClock(c.Now))
	rs := receipts.NewService(repos, provider, mgr, nil, receipts.WithClock(c.Now))
	svc := NewLoyaltyService(rs, mgr, provider, repos, nil)

	lis := bufconn.Listen(1 << 20)
	srv, _ := NewGRPCServer(svc, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{conn: conn, repos: repos, clock: c, store: store}
}

func (h *harness) call(ctx context.Context, method string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := h.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (h *harness) mustCall(t *testing.T, method string, in map[string]any) map[string]any {
	t.Helper()
	out, err := h.call(context.Background(), method, in)
	require.NoError(t, err, method)
	return out
}

func (h *harness) receiptText(invoice, total string) string {
	at := h.clock.Now().Add(-time.Hour)
	return fmt.Sprintf("SUPER CENTRAL\nBranch: Downtown\nTax ID: 123-456-789\nInvoice No: %s\nDate: %s\n--------------\nTOTAL %s\n",
		invoice, at.Format("2006-01-02 15:04"), total)
}

func TestRegisterCustomer_ValidatesAndRejectsDuplicatePhone(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(context.Background(), "RegisterCustomer", map[string]any{"name": "Ana", "phone": "call me"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	out := h.mustCall(t, "RegisterCustomer", map[string]any{"name": "Ana", "phone": "+15550100"})
	assert.Equal(t, "Ana", out["name"])
	assert.NotEmpty(t, out["id"])

	_, err = h.call(context.Background(), "RegisterCustomer", map[string]any{"name": "Other", "phone": "+15550100"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestListStores(t *testing.T) {
	h := newHarness(t)
	out := h.mustCall(t, "ListStores", map[string]any{})
	list, ok := out["stores"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "Super Central", list[0].(map[string]any)["name"])
}

func TestRewardLifecycleOverGRPC(t *testing.T) {
	h := newHarness(t)
	cust := h.mustCall(t, "RegisterCustomer", map[string]any{"name": "Ana", "phone": "+15550100"})
	customerID := cust["id"].(string)

	var rewardID string
	for i := 1; i <= 5; i++ {
		out := h.mustCall(t, "SubmitReceipt", map[string]any{
			"customer_id": customerID,
			"raw_text":    h.receiptText(fmt.Sprintf("INV-%d", i), "600.00"),
		})
		verdict := out["verdict"].(map[string]any)
		require.Equal(t, "approved", verdict["status"], "receipt %d: %v", i, verdict["reason"])
		assert.EqualValues(t, i, verdict["visitCount"])
		assert.Equal(t, i == 5, verdict["rewardEarned"])
		if i == 5 {
			rewardID = verdict["rewardId"].(string)
		}
		h.clock.Advance(25 * time.Hour)
	}
	require.NotEmpty(t, rewardID)

	progress := h.mustCall(t, "GetProgress", map[string]any{"customer_id": customerID})
	assert.EqualValues(t, 5, progress["period"].(map[string]any)["visits_in_period"])

	listed := h.mustCall(t, "ListRewards", map[string]any{"customer_id": customerID})
	require.Len(t, listed["rewards"].([]any), 1)

	claimed := h.mustCall(t, "ClaimReward", map[string]any{"reward_id": rewardID, "customer_id": customerID})
	assert.Equal(t, "claimed", claimed["status"])

	_, err := h.call(context.Background(), "RedeemReward", map[string]any{"reward_id": rewardID, "customer_id": "6f1c2f7e-0000-4000-8000-000000000000"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	redeemed := h.mustCall(t, "RedeemReward", map[string]any{"reward_id": rewardID, "customer_id": customerID})
	assert.Equal(t, "redeemed", redeemed["status"])
	payload, _ := redeemed["redemption_payload"].(string)
	require.NotEmpty(t, payload)

	used := h.mustCall(t, "ConfirmRewardUse", map[string]any{"payload": payload, "store_id": h.store.ID.String()})
	assert.Equal(t, "used", used["status"])
	assert.Equal(t, h.store.ID.String(), used["used_at_store_id"])

	_, err = h.call(context.Background(), "ConfirmRewardUse", map[string]any{"payload": payload})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestManualReviewFlow(t *testing.T) {
	h := newHarness(t)
	cust := h.mustCall(t, "RegisterCustomer", map[string]any{"name": "Ana", "phone": "+15550100"})
	customerID := cust["id"].(string)

	out := h.mustCall(t, "SubmitReceipt", map[string]any{
		"customer_id": customerID,
		"raw_text":    h.receiptText("INV-1", "450.00"),
	})
	require.Equal(t, "rejected", out["verdict"].(map[string]any)["status"])
	receiptID := out["receipt"].(map[string]any)["id"].(string)

	contested := h.mustCall(t, "RequestManualReview", map[string]any{"receipt_id": receiptID, "customer_id": customerID, "note": "paper was folded"})
	assert.Equal(t, "flagged_manual_requested", contested["receipt"].(map[string]any)["status"])

	queue := h.mustCall(t, "ListReviewQueue", map[string]any{"limit": 10})
	require.Len(t, queue["receipts"].([]any), 1)

	decision := map[string]any{"receipt_id": receiptID, "approve": true, "note": "total is 540.00"}
	_, err := h.call(context.Background(), "ResolveReceipt", decision)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-actor", "admin:maria", "x-request-id", "req-1")
	req, err := structpb.NewStruct(decision)
	require.NoError(t, err)
	resp := new(structpb.Struct)
	var header metadata.MD
	require.NoError(t, h.conn.Invoke(ctx, "/"+ServiceName+"/ResolveReceipt", req, resp, grpc.Header(&header)))
	assert.Equal(t, []string{"req-1"}, header.Get("x-request-id"))

	verdict := resp.AsMap()["verdict"].(map[string]any)
	assert.Equal(t, "approved", verdict["status"])
	assert.EqualValues(t, 1, verdict["visitCount"])

	receipt := resp.AsMap()["receipt"].(map[string]any)
	audit := receipt["audit"].([]any)
	assert.Equal(t, "admin:maria", audit[len(audit)-1].(map[string]any)["actor"])

	_, err = h.call(ctx, "ResolveReceipt", decision)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestSelectStore(t *testing.T) {
	h := newHarness(t)
	cust := h.mustCall(t, "RegisterCustomer", map[string]any{"name": "Ana", "phone": "+15550100"})
	customerID := cust["id"].(string)

	at := h.clock.Now().Add(-time.Hour).Format("2006-01-02 15:04")
	out := h.mustCall(t, "SubmitReceipt", map[string]any{
		"customer_id": customerID,
		"raw_text":    "CORNER SHOP\nDate: " + at + "\nTOTAL 600.00\n",
	})
	require.Equal(t, "needs_store_selection", out["verdict"].(map[string]any)["status"])
	receiptID := out["receipt"].(map[string]any)["id"].(string)

	selected := h.mustCall(t, "SelectStore", map[string]any{"receipt_id": receiptID, "customer_id": customerID, "store_id": h.store.ID.String()})
	assert.NotEqual(t, "needs_store_selection", selected["verdict"].(map[string]any)["status"])
	assert.Equal(t, h.store.ID.String(), selected["receipt"].(map[string]any)["store_id"])

	listed := h.mustCall(t, "ListReceipts", map[string]any{"customer_id": customerID, "since": "2026-03-01"})
	assert.Len(t, listed["receipts"].([]any), 1)
}

func TestInvalidArguments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.call(ctx, "SubmitReceipt", map[string]any{"customer_id": "nope", "raw_text": "x"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.call(ctx, "SubmitReceipt", map[string]any{"customer_id": "6f1c2f7e-0000-4000-8000-000000000000", "raw_text": "x", "ocr_confidence": 1.5})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.call(ctx, "ListReceipts", map[string]any{"customer_id": "6f1c2f7e-0000-4000-8000-000000000000", "since": "yesterday"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.call(ctx, "GetProgress", map[string]any{"customer_id": "6f1c2f7e-0000-4000-8000-000000000000"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = h.call(ctx, "ConfirmRewardUse", map[string]any{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealthService(t *testing.T) {
	h := newHarness(t)
	resp, err := grpc_health_v1.NewHealthClient(h.conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}
