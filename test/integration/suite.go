package integration

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/corebus/platform/internal/database"
	"github.com/corebus/platform/internal/database/postgres"
	"github.com/corebus/platform/pkg/config"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"github.com/corebus/platform/test/testutil"
	"github.com/stretchr/testify/suite"
)

// IntegrationSuite is the base suite for all integration tests.
type IntegrationSuite struct {
	suite.Suite
	Config *config.Config
	DB     database.DB
	Log    *logger.Logger

	CommandServiceURL string
	WorkerURL         string
	ProcessManagerURL string
	ProjectorURL      string
}

// SetupSuite prepares the test environment.
func (s *IntegrationSuite) SetupSuite() {
	var err error

	s.Config, err = config.Load()
	s.Require().NoError(err, "failed to load config")

	s.Log, err = logger.New("test", "debug")
	s.Require().NoError(err, "failed to initialize logger")

	m := metrics.New("integration_test")
	s.DB, err = postgres.InitFromConfig(s.Config, s.Log, m)
	s.Require().NoError(err, "failed to connect to database")

	s.CommandServiceURL = "http://localhost:8080"
	s.WorkerURL = "http://localhost:8081"
	s.ProcessManagerURL = "http://localhost:8082"
	s.ProjectorURL = "http://localhost:8083"

	s.waitForServices()
}

// TearDownSuite cleans up test resources.
func (s *IntegrationSuite) TearDownSuite() {
	if s.DB != nil {
		s.DB.Close()
	}
}

// waitForServices ensures all services are healthy before running tests.
func (s *IntegrationSuite) waitForServices() {
	services := map[string]string{
		"command-service": s.CommandServiceURL,
		"worker":          s.WorkerURL,
		"process-manager": s.ProcessManagerURL,
		"projector":       s.ProjectorURL,
	}

	client := http.Client{
		Timeout: 5 * time.Second,
	}

	for name, url := range services {
		deadline := time.Now().Add(30 * time.Second)
		for {
			resp, err := client.Get(fmt.Sprintf("%s/health", url))
			if err == nil && resp.StatusCode == http.StatusOK {
				resp.Body.Close()
				break
			}
			if time.Now().After(deadline) {
				s.T().Fatalf("service %s not healthy after 30 seconds", name)
			}
			time.Sleep(time.Second)
		}
	}
}

// RunIntegrationTest runs the integration test suite. It requires the
// docker-backed environment (Postgres, Kafka, Redis, and the four
// binaries) and is gated behind INTEGRATION_TEST=true.
func RunIntegrationTest(t *testing.T, s suite.TestingSuite) {
	testutil.SkipIfShort(t)
	testutil.SkipIfNotIntegration(t)
	suite.Run(t, s)
}
