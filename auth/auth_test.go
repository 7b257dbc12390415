package auth

import (
	"campus-sync/domain"
	"campus-sync/errors"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var secret = []byte("test_secret_long_enough_for_hs256")

func TestGenerateAndExtractIdentity(t *testing.T) {
	req := require.New(t)

	token, err := GenerateToken(secret, domain.Identity{ID: "user-1", DisplayName: "Alice"}, []string{"student"}, time.Hour)
	req.NoError(err)

	identity, err := IdentityFromBearer(secret, "Bearer "+token)
	req.NoError(err)
	req.Equal(domain.Identity{ID: "user-1", DisplayName: "Alice"}, identity)

	claims, err := ValidateToken(secret, token)
	req.NoError(err)
	req.Equal([]string{"student"}, claims.Roles)
}

func TestIdentityFromBearer_Rejections(t *testing.T) {
	expired, err := GenerateToken(secret, domain.Identity{ID: "user-1"}, nil, -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateToken([]byte("another_secret_long_enough_for_hs"), domain.Identity{ID: "user-1"}, nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"Missing", ""},
		{"Only scheme", "Bearer "},
		{"Garbage", "Bearer not-a-jwt"},
		{"Expired", "Bearer " + expired},
		{"Wrong signature", "Bearer " + foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IdentityFromBearer(secret, tt.header)
			require.ErrorIs(t, err, errors.ErrNotAuthenticated)
		})
	}
}

func TestGenerateToken_RejectsAnonymous(t *testing.T) {
	_, err := GenerateToken(secret, domain.Identity{}, nil, time.Hour)
	require.ErrorIs(t, err, errors.ErrNotAuthenticated)
}

func TestAuthInterceptor(t *testing.T) {
	req := require.New(t)
	interceptor := NewAuthInterceptor(secret)
	var seen domain.Identity
	handler := func(ctx context.Context, _ any) (any, error) {
		seen = IdentityFromContext(ctx)
		return "ok", nil
	}
	private := &grpc.UnaryServerInfo{FullMethod: "/campus.Wallet/Open"}

	// Given no metadata, a private method is rejected
	_, err := interceptor(context.Background(), nil, private, handler)
	req.Equal(codes.Unauthenticated, status.Code(err))

	// And a health check goes through anonymously
	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: grpc_health_v1.Health_Check_FullMethodName}, handler)
	req.NoError(err)
	req.True(seen.Anonymous())

	// When a valid token is sent
	token, err := GenerateToken(secret, domain.Identity{ID: "user-1"}, nil, time.Hour)
	req.NoError(err)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	_, err = interceptor(ctx, nil, private, handler)

	// Then the handler sees the identity
	req.NoError(err)
	req.Equal("user-1", seen.ID)
}

func TestAuthInterceptor_HealthList(t *testing.T) {
	req := require.New(t)
	interceptor := NewAuthInterceptor(secret)
	handler := func(context.Context, any) (any, error) { return "ok", nil }

	// Listing the registered services requires a token
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: grpc_health_v1.Health_List_FullMethodName}, handler)
	req.Equal(codes.Unauthenticated, status.Code(err))
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeServerStream) Context() context.Context { return s.ctx }

func TestStreamAuthInterceptor(t *testing.T) {
	req := require.New(t)
	interceptor := NewStreamAuthInterceptor(secret)
	var seen domain.Identity
	handler := func(_ any, ss grpc.ServerStream) error {
		seen = IdentityFromContext(ss.Context())
		return nil
	}
	private := &grpc.StreamServerInfo{FullMethod: "/campus.Wallet/Stream"}

	// Given no metadata, a private stream is rejected
	err := interceptor(nil, fakeServerStream{ctx: context.Background()}, private, handler)
	req.Equal(codes.Unauthenticated, status.Code(err))

	// And a health watch goes through anonymously
	err = interceptor(nil, fakeServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: grpc_health_v1.Health_Watch_FullMethodName}, handler)
	req.NoError(err)
	req.True(seen.Anonymous())

	// When a valid token is sent
	token, err := GenerateToken(secret, domain.Identity{ID: "user-1"}, nil, time.Hour)
	req.NoError(err)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	err = interceptor(nil, fakeServerStream{ctx: ctx}, private, handler)

	// Then the stream context carries the identity
	req.NoError(err)
	req.Equal("user-1", seen.ID)
}
