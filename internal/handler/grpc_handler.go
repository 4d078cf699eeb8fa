package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
	"github.com/pesio-ai/be-expense-approvals/pkg/auth"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "expenseapprovals.v1.ApprovalService"

// ApprovalServiceServer is the gRPC surface. Requests and responses are
// google.protobuf.Struct documents carrying the same fields as the JSON API.
type ApprovalServiceServer interface {
	Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ProcessPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Resubmit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ApprovalServiceDesc describes ApprovalServiceServer for grpc.Server.RegisterService.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Submit", ApprovalServiceServer.Submit),
		unaryMethod("Approve", ApprovalServiceServer.Approve),
		unaryMethod("Reject", ApprovalServiceServer.Reject),
		unaryMethod("ProcessPayment", ApprovalServiceServer.ProcessPayment),
		unaryMethod("Resubmit", ApprovalServiceServer.Resubmit),
		unaryMethod("GetStats", ApprovalServiceServer.GetStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "expenseapprovals/v1/approvals.proto",
}

type unaryCall func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(ApprovalServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// GRPCHandler implements ApprovalServiceServer on top of the approval service
type GRPCHandler struct {
	approvals *service.ApprovalService
	log       *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals *service.ApprovalService, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		log:       log.Component("grpc"),
	}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&ApprovalServiceDesc, h)
}

// Submit creates the approval chain for expense_id or report_id
func (h *GRPCHandler) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uc, err := h.caller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	kind, id, err := submissionFromStruct(req).target()
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.log.Info().
		Str("organization_id", uc.OrganizationID).
		Str("kind", string(kind)).
		Str("submission_id", id).
		Msg("gRPC Submit called")

	var a *repository.ExpenseApproval
	if kind == repository.KindReport {
		a, err = h.approvals.SubmitReport(ctx, uc.OrganizationID, id, uc.UserID)
	} else {
		a, err = h.approvals.SubmitExpense(ctx, uc.OrganizationID, id, uc.UserID)
	}
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(a)
}

// Approve approves the current step of approval_id
func (h *GRPCHandler) Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uc, err := h.caller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	a, err := h.approvals.Approve(ctx, uc.OrganizationID, stringField(req, "approval_id"), uc.UserID, optionalString(req, "comment"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(a)
}

// Reject rejects approval_id with rejection_reason
func (h *GRPCHandler) Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uc, err := h.caller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	a, err := h.approvals.Reject(ctx, uc.OrganizationID,
		stringField(req, "approval_id"), uc.UserID,
		stringField(req, "rejection_reason"), optionalString(req, "comment"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(a)
}

// ProcessPayment marks an awaiting-payment approval as paid
func (h *GRPCHandler) ProcessPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uc, err := h.caller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	a, err := h.approvals.ProcessPayment(ctx, uc.OrganizationID, stringField(req, "approval_id"), uc.UserID, optionalString(req, "comment"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(a)
}

// Resubmit restarts the chain of a rejected report or expense
func (h *GRPCHandler) Resubmit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uc, err := h.caller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	kind, id, err := submissionFromStruct(req).target()
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	var a *repository.ExpenseApproval
	if kind == repository.KindReport {
		a, err = h.approvals.ResubmitReport(ctx, uc.OrganizationID, id, uc.UserID)
	} else {
		a, err = h.approvals.ResubmitExpense(ctx, uc.OrganizationID, id, uc.UserID)
	}
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(a)
}

// GetStats returns dashboard counters for approver_id, defaulting to the caller.
// Reading another approver requires admin or finance.
func (h *GRPCHandler) GetStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uc, err := h.caller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	stats, err := h.approvals.GetStats(ctx, uc.OrganizationID, uc.UserID, stringField(req, "approver_id"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(stats)
}

// caller resolves the authenticated user and the organization they are an
// active member of.
func (h *GRPCHandler) caller(ctx context.Context) (*auth.UserContext, error) {
	uc, err := auth.RequireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := h.approvals.RequireMember(ctx, uc.OrganizationID, uc.UserID); err != nil {
		return nil, err
	}
	return uc, nil
}

// ── conversion ───────────────────────────────────────────────────────────────

func submissionFromStruct(req *structpb.Struct) submissionRequest {
	return submissionRequest{
		ExpenseID: stringField(req, "expense_id"),
		ReportID:  stringField(req, "report_id"),
	}
}

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func optionalString(req *structpb.Struct, key string) *string {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	s := v.GetStringValue()
	return &s
}

// toStruct converts a JSON-tagged value into a Struct through its JSON form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// mapErrorToGRPC converts an application error to a gRPC status.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeUnauthorized, errors.ErrCodeNotAuthenticated:
		return status.Error(codes.Unauthenticated, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeNoOrganizationSelected, errors.ErrCodeNoManagerAssigned,
		errors.ErrCodeNoEligibleApprover, errors.ErrCodeNoWorkflowFound:
		return status.Error(codes.FailedPrecondition, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
