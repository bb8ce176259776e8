// submit-command is a thin CLI for exercising the Accept API: it POSTs a
// command to a running command-service instance and prints the result.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	var (
		addr           = flag.String("addr", "http://localhost:8080", "command-service base URL")
		name           = flag.String("name", "echo", "command name")
		businessKey    = flag.String("business-key", "", "business key")
		idempotencyKey = flag.String("idempotency-key", "", "idempotency key (defaults to a generated one)")
		payload        = flag.String("payload", "{}", "JSON payload")
		timeout        = flag.Duration("timeout", 10*time.Second, "request timeout")
	)
	flag.Parse()

	if *idempotencyKey == "" {
		*idempotencyKey = fmt.Sprintf("submit-command-%d", time.Now().UnixNano())
	}

	var rawPayload json.RawMessage
	if err := json.Unmarshal([]byte(*payload), &rawPayload); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --payload: %v\n", err)
		os.Exit(1)
	}

	body, err := json.Marshal(map[string]interface{}{
		"name":           *name,
		"businessKey":    *businessKey,
		"idempotencyKey": *idempotencyKey,
		"payload":        rawPayload,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build request: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Post(*addr+"/commands", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s: %s\n", resp.Status, respBody)
	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}
