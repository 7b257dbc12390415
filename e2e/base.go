package e2e

import (
	"bytes"
	"campus-sync/auth"
	"campus-sync/domain"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type BaseSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.SyncdAddr == "" {
		s.T().Skip("SYNCD_ADDR not set, no syncd to run against")
	}
}

func (s *BaseSuite) step(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

// GrpcConn connects to the gRPC health surface of syncd.
func (s *BaseSuite) GrpcConn(t *testing.T) *grpc.ClientConn {
	s.step(t, "gRPC "+s.Config.HealthAddr)
	conn, err := grpc.NewClient(s.Config.HealthAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.HealthAddr)
	return conn
}

// Token signs a bearer token for userID with the secret syncd runs with.
func (s *BaseSuite) Token(userID string) string {
	token, err := auth.GenerateToken([]byte(s.Config.AuthSecret), domain.Identity{ID: userID}, nil, time.Hour)
	s.Require().NoError(err)
	return "Bearer " + token
}

// Call sends body as JSON and decodes the response into out when not nil.
func (s *BaseSuite) Call(t *testing.T, method, path, bearer string, body, out any) int {
	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		payload = bytes.NewReader(data)
	}
	r, err := http.NewRequest(method, strings.TrimRight(s.Config.SyncdAddr, "/")+path, payload)
	s.Require().NoError(err)
	if bearer != "" {
		r.Header.Set("Authorization", bearer)
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(r)
	s.Require().NoError(err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)

	line := fmt.Sprintf("HTTP %s %s [%d] in %v", method, path, resp.StatusCode, time.Since(start))
	if s.Config.DebugJSON {
		line += "\nRESPONSE:\n" + string(data)
	}
	t.Log(line)
	if out != nil && len(data) > 0 {
		s.Require().NoError(json.Unmarshal(data, out))
	}
	return resp.StatusCode
}
