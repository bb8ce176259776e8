package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/corebus/platform/internal/database"
)

// TestData represents the structure of test fixture data.
type TestData struct {
	Commands []map[string]interface{} `json:"commands"`
}

// LoadTestData loads test fixtures from JSON files.
func LoadTestData() (*TestData, error) {
	data := &TestData{}

	if err := loadJSONFile("fixtures/commands.json", &data.Commands); err != nil {
		return nil, fmt.Errorf("failed to load commands: %w", err)
	}

	return data, nil
}

// loadJSONFile loads and parses a JSON file.
func loadJSONFile(path string, v interface{}) error {
	fullPath := filepath.Join("test/integration", path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetupTestDB prepares the test database with fixtures.
func SetupTestDB(ctx context.Context, db database.DB) error {
	if err := clearTestData(ctx, db); err != nil {
		return err
	}

	data, err := LoadTestData()
	if err != nil {
		return err
	}

	return insertTestData(ctx, db, data)
}

// clearTestData removes existing rows from tables exercised by the
// integration suite, in child-to-parent order.
func clearTestData(ctx context.Context, db database.DB) error {
	tables := []string{"process_command", "process_instance", "dlq", "inbox", "outbox", "idempotency_keys", "command"}
	for _, table := range tables {
		if _, err := db.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

// insertTestData populates the database with test fixtures.
func insertTestData(ctx context.Context, db database.DB, data *TestData) error {
	for _, cmd := range data.Commands {
		if err := insertCommand(ctx, db, cmd); err != nil {
			return err
		}
	}
	return nil
}

// insertCommand inserts a test command row.
func insertCommand(ctx context.Context, db database.DB, cmd map[string]interface{}) error {
	query := `
		INSERT INTO command (id, name, business_key, payload, idempotency_key, status, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`
	payload, err := json.Marshal(cmd["payload"])
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = db.Exec(ctx, query,
		cmd["id"],
		cmd["name"],
		cmd["businessKey"],
		payload,
		cmd["idempotencyKey"],
		cmd["status"],
	)
	return err
}
