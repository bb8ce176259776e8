package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/corebus/platform/test/integration"
)

type ProcessManagerSuite struct {
	integration.IntegrationSuite
}

func TestProcessManager(t *testing.T) {
	integration.RunIntegrationTest(t, new(ProcessManagerSuite))
}

func (s *ProcessManagerSuite) startProcess(businessKey string, data map[string]interface{}) string {
	body, err := json.Marshal(data)
	s.Require().NoError(err)

	resp, err := http.Post(
		fmt.Sprintf("%s/processes/resource-provisioning/%s", s.ProcessManagerURL, businessKey),
		"application/json",
		bytes.NewReader(body),
	)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)

	var started struct {
		InstanceID string `json:"instanceId"`
	}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&started))
	s.Require().NotEmpty(started.InstanceID)
	return started.InstanceID
}

// waitForProcess polls the process status endpoint until the instance
// leaves its RUNNING/WAITING states, returning the terminal status.
func (s *ProcessManagerSuite) waitForProcess(instanceID string) string {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("%s/processes/%s", s.ProcessManagerURL, instanceID))
		if err == nil {
			var inst struct {
				Status string `json:"status"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&inst); err == nil {
				resp.Body.Close()
				if inst.Status == "COMPLETED" || inst.Status == "FAILED" {
					return inst.Status
				}
			} else {
				resp.Body.Close()
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	s.T().Fatalf("process %s did not reach a terminal state within timeout", instanceID)
	return ""
}

func (s *ProcessManagerSuite) TestProvisioningCompletes() {
	id := s.startProcess(fmt.Sprintf("proc-ok-%d", time.Now().UnixNano()), map[string]interface{}{})
	s.Equal("COMPLETED", s.waitForProcess(id))
}

func (s *ProcessManagerSuite) TestApprovalBranchCompletes() {
	id := s.startProcess(fmt.Sprintf("proc-appr-%d", time.Now().UnixNano()), map[string]interface{}{
		"requiresApproval": true,
	})
	s.Equal("COMPLETED", s.waitForProcess(id))
}

func (s *ProcessManagerSuite) TestFailedBranchCompensates() {
	id := s.startProcess(fmt.Sprintf("proc-fail-%d", time.Now().UnixNano()), map[string]interface{}{
		"failAudit": true,
	})
	s.Equal("FAILED", s.waitForProcess(id))

	// The failed parallel region compensates the steps that did complete:
	// compensation commands flow through the same bus, so the compensation
	// command rows must exist.
	resp, err := http.Get(fmt.Sprintf("%s/processes/%s", s.ProcessManagerURL, id))
	s.Require().NoError(err)
	defer resp.Body.Close()

	var inst struct {
		History []struct {
			Step   string `json:"step"`
			Result string `json:"result"`
		} `json:"history"`
	}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&inst))

	compensated := 0
	for _, h := range inst.History {
		if h.Result == "compensated" {
			compensated++
		}
	}
	s.GreaterOrEqual(compensated, 1, "at least one completed step must be compensated")
}
