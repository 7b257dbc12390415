package auth

import (
	"campus-sync/domain"
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Map of methods that do not require JWT authentication. Check and Watch
// stay open to orchestrators; Health/List names every registered service
// and needs a token like any other method.
var publicMethods = map[string]struct{}{
	grpc_health_v1.Health_Check_FullMethodName: {},
	grpc_health_v1.Health_Watch_FullMethodName: {},
}

type contextKey string

const IdentityKey contextKey = "identity"

// NewAuthInterceptor validates the bearer token of incoming gRPC calls and
// injects the caller's identity into the context.
func NewAuthInterceptor(secret []byte) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any,
		info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublicMethod(info.FullMethod) {
			return handler(ctx, req)
		}

		identity, err := authenticate(ctx, secret)
		if err != nil {
			return nil, err
		}
		return handler(WithIdentity(ctx, identity), req)
	}
}

// NewStreamAuthInterceptor is NewAuthInterceptor for streaming calls.
func NewStreamAuthInterceptor(secret []byte) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublicMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		identity, err := authenticate(ss.Context(), secret)
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: WithIdentity(ss.Context(), identity)})
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, secret []byte) (domain.Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Identity{}, status.Error(codes.Unauthenticated, "metadata is missing")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return domain.Identity{}, status.Error(codes.Unauthenticated, "authorization token is missing")
	}
	identity, err := IdentityFromBearer(secret, values[0])
	if err != nil {
		return domain.Identity{}, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return identity, nil
}

func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// IdentityFromContext returns the caller identity, anonymous when none was
// injected.
func IdentityFromContext(ctx context.Context) domain.Identity {
	identity, _ := ctx.Value(IdentityKey).(domain.Identity)
	return identity
}

func isPublicMethod(method string) bool {
	_, ok := publicMethods[method]
	return ok
}
