package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		// metadata only, payloads may carry private records
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remoteIP(ctx)),
		}
		if id, ok := UserIDFromCtx(ctx); ok {
			fields = append(fields, zap.String("user_id", id.String()))
		}
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary verifies the bearer token once and stores the caller id in ctx.
// Health checks pass through unauthenticated.
func AuthUnary(s *Server, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.") || strings.HasPrefix(info.FullMethod, "/grpc.reflection.") {
			return next(ctx, req)
		}
		id, err := s.userIDFromCtx(ctx)
		if err != nil {
			log.Info("auth rejected",
				zap.String("method", info.FullMethod),
				zap.String("peer", remoteIP(ctx)),
				zap.Error(err),
			)
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		return next(WithUserID(ctx, id), req)
	}
}
