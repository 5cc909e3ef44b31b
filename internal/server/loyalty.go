package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/receipts"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository"
	"github.com/joseph-ayodele/receipt-rewards/internal/rewards"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "loyalty.v1.LoyaltyService"

// LoyaltyServer is the gRPC surface of the loyalty engine. Requests and
// responses are google.protobuf.Struct documents with snake_case keys.
type LoyaltyServer interface {
	RegisterCustomer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStores(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitReceipt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelectStore(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestManualReview(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveReceipt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReviewQueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReceipts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRewards(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClaimReward(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RedeemReward(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmRewardUse(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type LoyaltyService struct {
	receipts  *receipts.Service
	rewards   *rewards.Manager
	rules     receipts.SnapshotSource
	customers repository.CustomerRepository
	stores    repository.StoreRepository
	logger    *slog.Logger
}

// NewLoyaltyService creates the gRPC loyalty service.
func NewLoyaltyService(rs *receipts.Service, rw *rewards.Manager, rules receipts.SnapshotSource, repos repository.Repositories, logger *slog.Logger) *LoyaltyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoyaltyService{
		receipts:  rs,
		rewards:   rw,
		rules:     rules,
		customers: repos.Customers,
		stores:    repos.Stores,
		logger:    logger,
	}
}

// RegisterLoyaltyServer registers srv on s.
func RegisterLoyaltyServer(s grpc.ServiceRegistrar, srv LoyaltyServer) {
	s.RegisterService(&LoyaltyServiceDesc, srv)
}

type unaryMethod func(LoyaltyServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, fn unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(LoyaltyServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// LoyaltyServiceDesc describes LoyaltyServer for grpc.Server.RegisterService.
var LoyaltyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LoyaltyServer)(nil),
	Methods: []grpc.MethodDesc{
		method("RegisterCustomer", LoyaltyServer.RegisterCustomer),
		method("ListStores", LoyaltyServer.ListStores),
		method("SubmitReceipt", LoyaltyServer.SubmitReceipt),
		method("SelectStore", LoyaltyServer.SelectStore),
		method("RequestManualReview", LoyaltyServer.RequestManualReview),
		method("ResolveReceipt", LoyaltyServer.ResolveReceipt),
		method("ListReviewQueue", LoyaltyServer.ListReviewQueue),
		method("ListReceipts", LoyaltyServer.ListReceipts),
		method("GetProgress", LoyaltyServer.GetProgress),
		method("ListRewards", LoyaltyServer.ListRewards),
		method("ClaimReward", LoyaltyServer.ClaimReward),
		method("RedeemReward", LoyaltyServer.RedeemReward),
		method("ConfirmRewardUse", LoyaltyServer.ConfirmRewardUse),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "loyalty/v1/loyalty.proto",
}

// fail logs err and maps it onto a gRPC status.
func (s *LoyaltyService) fail(ctx context.Context, op string, err error) error {
	s.logger.WarnContext(ctx, op+".failed", "request_id", common.RequestIDFromContext(ctx), "error", err)
	return common.GRPCStatus(err)
}

func resultStruct(res *receipts.Result) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"receipt": res.Receipt,
		"verdict": res.Verdict,
		"period":  res.Period,
	})
}

func (s *LoyaltyService) RegisterCustomer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := argsOf(in)
	v := common.NewValidator().
		Field("name", a.str("name"), common.Required, common.MaxLength(120)).
		Field("phone", a.str("phone"), common.Required, common.Phone)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	c, err := s.customers.Create(ctx, &entity.Customer{Name: a.str("name"), Phone: a.str("phone")})
	if err != nil {
		return nil, s.fail(ctx, "customer.register", err)
	}
	s.logger.InfoContext(ctx, "customer.registered", "customer_id", c.ID)
	return toStruct(c)
}

func (s *LoyaltyService) ListStores(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list, err := s.stores.List(ctx)
	if err != nil {
		return nil, s.fail(ctx, "stores.list", err)
	}
	return listStruct("stores", list)
}

func (s *LoyaltyService) SubmitReceipt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := argsOf(in)
	conf := a.number("ocr_confidence")
	v := common.NewValidator().
		Field("customer_id", a.str("customer_id"), common.Required, common.UUID).
		Field("store_id", a.str("store_id"), common.OptionalUUID).
		Field("raw_text", a.str("raw_text"), common.Required).
		Field("ocr_confidence", conf, common.UnitInterval)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	customerID, _ := a.uuid("customer_id")
	storeID, _ := a.optUUID("store_id")
	req := receipts.SubmitRequest{
		CustomerID:    customerID,
		StoreID:       storeID,
		RawText:       in.GetFields()["raw_text"].GetStringValue(),
		OCRConfidence: conf,
	}
	at, err := a.instant("submitted_at")
	if err != nil {
		return nil, err
	}
	if at != nil {
		req.SubmittedAt = *at
	}

	res, err := s.receipts.Submit(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, "receipt.submit", err)
	}
	return resultStruct(res)
}

func (s *LoyaltyService) SelectStore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := argsOf(in)
	receiptID, err := a.uuid("receipt_id")
	if err != nil {
		return nil, err
	}
	customerID, err := a.uuid("customer_id")
	if err != nil {
		return nil, err
	}
	storeID, err := a.uuid("store_id")
	if err != nil {
		return nil, err
	}
	res, err := s.receipts.ResolveStore(ctx, receiptID, customerID, storeID)
	if err != nil {
		return nil, s.fail(ctx, "receipt.select_store", err)
	}
	return resultStruct(res)
}

func (s *LoyaltyService) RequestManualReview(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := argsOf(in)
	receiptID, err := a.uuid("receipt_id")
	if err != nil {
		return nil, err
	}
	customerID, err := a.uuid("customer_id")
	if err != nil {
		return nil, err
	}
	if err := common.ValidateAndReturnError(common.NewValidator().Field("note", a.str("note"), common.MaxLength(500))); err != nil {
		return nil, err
	}
	rc, err := s.receipts.RequestManualReview(ctx, receiptID, customerID, a.str("note"))
	if err != nil {
		return nil, s.fail(ctx, "receipt.request_review", err)
	}
	return toStruct(map[string]any{"receipt": rc})
}

// ResolveReceipt is an administrator action; the caller must identify
// itself through the x-actor metadata header.
func (s *LoyaltyService) ResolveReceipt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if common.ActorFromContext(ctx) == "system" {
		return nil, common.PermissionDeniedError("x-actor metadata is required to resolve receipts")
	}
	a := argsOf(in)
	receiptID, err := a.uuid("receipt_id")
	if err != nil {
		return nil, err
	}
	storeID, err := a.optUUID("store_id")
	if err != nil {
		return nil, err
	}
	res, err := s.receipts.Resolve(ctx, receipts.Decision{
		ReceiptID: receiptID,
		Approve:   a.boolean("approve"),
		StoreID:   storeID,
		Note:      a.str("note"),
	})
	if err != nil {
		return nil, s.fail(ctx, "receipt.resolve", err)
	}
	return resultStruct(res)
}

func (s *LoyaltyService) ListReviewQueue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	list, err := s.receipts.ListAwaitingReview(ctx, argsOf(in).integer("limit", 100))
	if err != nil {
		return nil, s.fail(ctx, "receipt.review_queue", err)
	}
	return listStruct("receipts", list)
}

func (s *LoyaltyService) ListReceipts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := argsOf(in)
	customerID, err := a.uuid("customer_id")
	if err != nil {
		return nil, err
	}
	since, err := a.instant("since")
	if err != nil {
		return nil, err
	}
	list, err := s.receipts.ListForCustomer(ctx, customerID, since)
	if err != nil {
		return nil, s.fail(ctx, "receipt.list", err)
	}
	return listStruct("receipts", list)
}

func (s *LoyaltyService) GetProgress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	customerID, err := argsOf(in).uuid("customer_id")
	if err != nil {
		return nil, err
	}
	p, err := s.receipts.CustomerProgress(ctx, customerID)
	if err != nil {
		return nil, s.fail(ctx, "customer.progress", err)
	}
	return toStruct(p)
}

func (s *LoyaltyService) ListRewards(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	customerID, err := argsOf(in).uuid("customer_id")
	if err != nil {
		return nil, err
	}
	list, err := s.rewards.ListForCustomer(ctx, customerID)
	if err != nil {
		return nil, s.fail(ctx, "reward.list", err)
	}
	return listStruct("rewards", list)
}

func (s *LoyaltyService) ClaimReward(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := argsOf(in)
	rewardID, err := a.uuid("reward_id")
	if err != nil {
		return nil, err
	}
	customerID, err := a.uuid("customer_id")
	if err != nil {
		return nil, err
	}
	r, err := s.rewards.Claim(ctx, rewardID, customerID)
	if err != nil {
		return nil, s.fail(ctx, "reward.claim", err)
	}
	return toStruct(r)
}

func (s *LoyaltyService) RedeemReward(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := argsOf(in)
	rewardID, err := a.uuid("reward_id")
	if err != nil {
		return nil, err
	}
	customerID, err := a.uuid("customer_id")
	if err != nil {
		return nil, err
	}
	if err := s.owned(ctx, rewardID, customerID); err != nil {
		return nil, s.fail(ctx, "reward.redeem", err)
	}
	cfg, err := s.rules.Current()
	if err != nil {
		return nil, s.fail(ctx, "reward.redeem", err)
	}
	r, err := s.rewards.Redeem(ctx, rewardID, cfg)
	if err != nil {
		return nil, s.fail(ctx, "reward.redeem", err)
	}
	return toStruct(r)
}

// ConfirmRewardUse is called by store staff after scanning the redemption
// payload. Staff may instead key in reward_id and discount_code.
func (s *LoyaltyService) ConfirmRewardUse(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := argsOf(in)
	storeID, err := a.optUUID("store_id")
	if err != nil {
		return nil, err
	}
	var r *entity.Reward
	if payload := a.str("payload"); payload != "" {
		r, err = s.rewards.Use(ctx, payload, storeID)
	} else {
		rewardID, perr := a.uuid("reward_id")
		if perr != nil {
			return nil, common.InvalidArgumentError("payload or reward_id with discount_code is required")
		}
		r, err = s.rewards.ConfirmUse(ctx, rewardID, a.str("discount_code"), storeID)
	}
	if err != nil {
		return nil, s.fail(ctx, "reward.use", err)
	}
	return toStruct(r)
}

func (s *LoyaltyService) owned(ctx context.Context, rewardID, customerID uuid.UUID) error {
	r, err := s.rewards.Get(ctx, rewardID)
	if err != nil {
		return err
	}
	if r.CustomerID != customerID {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("reward %s not found for customer %s", rewardID, customerID), common.ErrNotFound)
	}
	return nil
}
