package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMapToGRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"Unavailable", fmt.Errorf("%w: backend down", ErrUnavailable), codes.Unavailable},
		{"Not authenticated", ErrNotAuthenticated, codes.Unauthenticated},
		{"Stale", ErrStale, codes.FailedPrecondition},
		{"Already submitted", ErrAlreadySubmitted, codes.AlreadyExists},
		{"Unknown", fmt.Errorf("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			st, ok := status.FromError(MapToGRPCError(tt.err))
			req.True(ok)
			req.Equal(tt.code, st.Code())
		})
	}
	require.NoError(t, MapToGRPCError(nil))
}
