package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type testWalletSuite struct {
	BaseSuite
}

func TestWalletSuite(t *testing.T) {
	suite.Run(t, &testWalletSuite{})
}

func (s *testWalletSuite) TestCreditShowsInWallet() {
	t := s.T()
	accountID := uuid.NewString()

	s.step(t, "Open account")
	status := s.Call(t, http.MethodPost, "/accounts", "", map[string]string{"id": accountID, "balance": "20"}, nil)
	s.Require().Equal(http.StatusCreated, status)

	s.step(t, "Credit")
	status = s.Call(t, http.MethodPost, "/accounts/"+accountID+"/transactions", "",
		map[string]string{"kind": "credit", "amount": "5", "description": "e2e"}, nil)
	s.Require().Equal(http.StatusCreated, status)

	s.step(t, "Read wallet")
	var wallet struct {
		Balance      string `json:"balance"`
		Transactions []any  `json:"transactions"`
	}
	status = s.Call(t, http.MethodGet, "/wallet", s.Token(accountID), nil, &wallet)
	s.Require().Equal(http.StatusOK, status)
	s.Equal("25", wallet.Balance)
	s.Len(wallet.Transactions, 1)
}

func (s *testWalletSuite) TestAnonymousWalletRejected() {
	s.Equal(http.StatusUnauthorized, s.Call(s.T(), http.MethodGet, "/wallet", "", nil, nil))
}

func (s *testWalletSuite) TestHealthServing() {
	if s.Config.HealthAddr == "" {
		s.T().Skip("SYNCD_HEALTH_ADDR not set")
	}
	conn := s.GrpcConn(s.T())
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	s.Require().NoError(err)
	s.Equal(healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
