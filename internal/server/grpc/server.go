// Package grpcserver exposes the EpochLedger gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/epoch-ledger/internal/convert"
	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	UnimplementedEpochLedgerServer
	ledger  service.LedgerService
	grants  service.GrantService
	reader  service.ReaderService
	signKey []byte
}

var _ EpochLedgerServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(ledger service.LedgerService, grants service.GrantService, reader service.ReaderService, signKey []byte) *Server {
	return &Server{ledger: ledger, grants: grants, reader: reader, signKey: signKey}
}

// toStatus maps domain sentinels to gRPC codes. Unknown errors become Internal.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrConflict):
		return status.Errorf(codes.AlreadyExists, "%s: %v", op, err)
	case errors.Is(err, errs.ErrSelfReference):
		return status.Error(codes.FailedPrecondition, "viewer and target are the same user")
	case errors.Is(err, errs.ErrNotEntitled):
		return status.Error(codes.PermissionDenied, "not entitled")
	case errors.Is(err, errs.ErrNoActiveGrant):
		return status.Error(codes.PermissionDenied, "no active read grant")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "no auth")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

// caller returns the authenticated user, preferring the id AuthUnary put in ctx.
func (s *Server) caller(ctx context.Context) (uuid.UUID, error) {
	if id, ok := UserIDFromCtx(ctx); ok {
		return id, nil
	}
	id, err := s.userIDFromCtx(ctx)
	if err != nil {
		return uuid.Nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

func reply(op string, out *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%s: encode: %v", op, err)
	}
	return out, nil
}

// --- Records ---

// AppendRecord appends one record to the caller's chain.
func (s *Server) AppendRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	draft, err := convert.FromAppendRequest(userID, req)
	if err != nil {
		return nil, toStatus("append", err)
	}
	rec, err := s.ledger.AppendRecord(ctx, draft)
	if err != nil {
		return nil, toStatus("append", err)
	}
	out, err := convert.ToRecordResponse(*rec)
	return reply("append", out, err)
}

// ChangeVisibility appends a visibility_changed record for one of the caller's records.
func (s *Server) ChangeVisibility(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	target, err := convert.UUID(req, "target_record_id")
	if err != nil {
		return nil, toStatus("change visibility", err)
	}
	rec, err := s.ledger.ChangeVisibility(ctx, userID, target, convert.String(req, "visibility"))
	if err != nil {
		return nil, toStatus("change visibility", err)
	}
	out, err := convert.ToRecordResponse(*rec)
	return reply("change visibility", out, err)
}

// ListRecords returns the caller's full chain with visibility changes applied.
func (s *Server) ListRecords(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := s.ledger.ListRecordsForUser(ctx, userID)
	if err != nil {
		return nil, toStatus("list", err)
	}
	out, err := convert.ToRecordsResponse(rs)
	return reply("list", out, err)
}

// ListVisibleRecords returns the caller's own records as others would see
// them after visibility changes. Other users are only reachable through
// ReadTargetRecords.
func (s *Server) ListVisibleRecords(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := s.ledger.ListVisibleRecordsForUser(ctx, userID, convert.Bool(req, "include_scout_visible"))
	if err != nil {
		return nil, toStatus("list visible", err)
	}
	out, err := convert.ToRecordsResponse(rs)
	return reply("list visible", out, err)
}

// VerifyChain re-walks the caller's chain.
func (s *Server) VerifyChain(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	rep, err := s.ledger.VerifyChain(ctx, userID)
	if err != nil {
		return nil, toStatus("verify", err)
	}
	out, err := convert.ToReportResponse(rep)
	return reply("verify", out, err)
}

// --- Grants ---

// StartReadGrant opens a grant for the caller over target_user_id.
func (s *Server) StartReadGrant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	viewer, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	target, err := convert.UUID(req, "target_user_id")
	if err != nil {
		return nil, toStatus("start grant", err)
	}
	g, err := s.grants.StartReadGrant(ctx, viewer, target, convert.String(req, "grant_type"))
	if err != nil {
		return nil, toStatus("start grant", err)
	}
	out, err := convert.ToGrantResponse(g)
	return reply("start grant", out, err)
}

// EndReadGrant ends the caller's grant. Ending twice is not an error.
func (s *Server) EndReadGrant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	viewer, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	grantID, err := convert.UUID(req, "grant_id")
	if err != nil {
		return nil, toStatus("end grant", err)
	}
	g, err := s.grants.EndReadGrant(ctx, viewer, grantID)
	if err != nil {
		return nil, toStatus("end grant", err)
	}
	out, err := convert.ToEndGrantResponse(g)
	return reply("end grant", out, err)
}

// GetActiveReadGrant returns the caller's active grant over target_user_id, or null.
func (s *Server) GetActiveReadGrant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	viewer, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	target, err := convert.UUID(req, "target_user_id")
	if err != nil {
		return nil, toStatus("active grant", err)
	}
	g, err := s.grants.GetActiveReadGrant(ctx, viewer, target)
	if err != nil {
		return nil, toStatus("active grant", err)
	}
	out, err := convert.ToGrantResponse(g)
	return reply("active grant", out, err)
}

// GetReadGrant returns one of the caller's grants by id.
func (s *Server) GetReadGrant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	viewer, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	grantID, err := convert.UUID(req, "grant_id")
	if err != nil {
		return nil, toStatus("get grant", err)
	}
	g, err := s.grants.GetReadGrantByID(ctx, viewer, grantID)
	if err != nil {
		return nil, toStatus("get grant", err)
	}
	out, err := convert.ToGrantResponse(g)
	return reply("get grant", out, err)
}

// ReadTargetRecords serves another user's visible records under a grant.
func (s *Server) ReadTargetRecords(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	viewer, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	cr, err := convert.FromCrossReadRequest(viewer, req)
	if err != nil {
		return nil, toStatus("read", err)
	}
	res, err := s.reader.ReadTargetRecords(ctx, cr)
	if err != nil {
		return nil, toStatus("read", err)
	}
	out, err := convert.ToCrossReadResponse(*res)
	return reply("read", out, err)
}

// --- Auth ---

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// userIDFromCtx: extract "authorization: Bearer <JWT>", verify HS256, return sub as UUID.
func (s *Server) userIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, errors.New("token expired or not valid yet")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
