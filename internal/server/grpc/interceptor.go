package grpc

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/services"
)

// Authenticator is satisfied by services.Guard.
type Authenticator interface {
	Authorize(ctx context.Context, token string, level services.AccessLevel) (*models.User, error)
}

const healthServicePrefix = "/grpc.health.v1.Health/"

type ctxKey struct{}

// UserFromContext returns the caller resolved by the guard interceptors.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*models.User)
	return u, ok
}

func (s *GRPCServer) unaryGuard(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
		return handler(ctx, req)
	}

	ctx, err := s.authorize(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *GRPCServer) streamGuard(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
		return handler(srv, ss)
	}

	ctx, err := s.authorize(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &guardedStream{ServerStream: ss, ctx: ctx})
}

func (s *GRPCServer) authorize(ctx context.Context, method string) (context.Context, error) {
	user, err := s.guard.Authorize(ctx, accessToken(ctx), services.AccessActive)
	switch {
	case err == nil:
		return context.WithValue(ctx, ctxKey{}, user), nil
	case errors.Is(err, common.ErrAuthentication):
		return nil, status.Error(codes.Unauthenticated, "could not validate credentials")
	case errors.Is(err, common.ErrPermissionDenied):
		return nil, status.Error(codes.PermissionDenied, "permission denied")
	}
	s.logger.Error(ctx, "grpc authorization failed", "method", method, "error", err)
	return nil, status.Error(codes.Internal, "internal error")
}

// accessToken reads "authorization: Bearer <t>" or else the access_token key.
func accessToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(strings.ToLower(common.AuthorizationHeader)); len(v) > 0 {
		if t := common.BearerToken(v[0]); t != "" {
			return t
		}
	}
	if v := md.Get(common.AccessTokenMetadataKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

type guardedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (g *guardedStream) Context() context.Context { return g.ctx }
