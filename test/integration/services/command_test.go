package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/corebus/platform/test/integration"
)

type CommandServiceSuite struct {
	integration.IntegrationSuite
}

func TestCommandService(t *testing.T) {
	integration.RunIntegrationTest(t, new(CommandServiceSuite))
}

func (s *CommandServiceSuite) TestCommandProcessing() {
	request := map[string]interface{}{
		"name":           "echo",
		"businessKey":    "integration-suite",
		"idempotencyKey": fmt.Sprintf("integration-suite-%d", time.Now().UnixNano()),
		"payload":        map[string]interface{}{"message": "hello from the integration suite"},
	}

	body, err := json.Marshal(request)
	s.Require().NoError(err)

	resp, err := http.Post(
		fmt.Sprintf("%s/commands", s.CommandServiceURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		CommandID string `json:"commandId"`
	}
	err = json.NewDecoder(resp.Body).Decode(&accepted)
	resp.Body.Close()
	s.Require().NoError(err)
	s.Require().NotEmpty(accepted.CommandID)

	status := s.waitForCommandProcessing(accepted.CommandID)
	s.Equal("SUCCEEDED", status)
}

func (s *CommandServiceSuite) TestDuplicateIdempotencyKey() {
	request := map[string]interface{}{
		"name":           "echo",
		"businessKey":    "integration-suite",
		"idempotencyKey": fmt.Sprintf("integration-dup-%d", time.Now().UnixNano()),
		"payload":        map[string]interface{}{"message": "first"},
	}
	body, err := json.Marshal(request)
	s.Require().NoError(err)

	first, err := http.Post(fmt.Sprintf("%s/commands", s.CommandServiceURL), "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	first.Body.Close()
	s.Require().Equal(http.StatusAccepted, first.StatusCode)

	second, err := http.Post(fmt.Sprintf("%s/commands", s.CommandServiceURL), "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	second.Body.Close()
	s.Require().Equal(http.StatusConflict, second.StatusCode)
}

func (s *CommandServiceSuite) TestPermanentFailureParksCommand() {
	request := map[string]interface{}{
		"name":           "fail",
		"businessKey":    "integration-suite",
		"idempotencyKey": fmt.Sprintf("integration-fail-%d", time.Now().UnixNano()),
		"payload":        map[string]interface{}{"mode": "permanent"},
	}
	body, err := json.Marshal(request)
	s.Require().NoError(err)

	resp, err := http.Post(fmt.Sprintf("%s/commands", s.CommandServiceURL), "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	var accepted struct {
		CommandID string `json:"commandId"`
	}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()

	status := s.waitForCommandProcessing(accepted.CommandID)
	s.Equal("FAILED", status)

	var dlqCount int
	row := s.DB.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM dlq WHERE command_id = $1", accepted.CommandID)
	s.Require().NoError(row.Scan(&dlqCount))
	s.Equal(1, dlqCount)
}

// waitForCommandProcessing polls the status API until the command reaches
// a terminal state, returning that status.
func (s *CommandServiceSuite) waitForCommandProcessing(commandID string) string {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(
			fmt.Sprintf("%s/commands/%s", s.CommandServiceURL, commandID),
		)
		if err == nil {
			var cmd struct {
				Status string `json:"status"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&cmd); err == nil {
				resp.Body.Close()
				if cmd.Status == "SUCCEEDED" || cmd.Status == "FAILED" || cmd.Status == "TIMED_OUT" {
					return cmd.Status
				}
			} else {
				resp.Body.Close()
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.T().Fatalf("command %s not processed within timeout", commandID)
	return ""
}
