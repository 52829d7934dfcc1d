//go:build pact
// +build pact

package pacttest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const (
	ProviderName = "order-service"
	ConsumerName = "order-portal"

	StateOrdersBaseline = "orders baseline"
	StateOrderExists    = "order 7b3f0a52-3c1e-4a8e-9a57-2f4d7f1f8c11 exists"
	StateOrderMissing   = "no order 00000000-0000-4000-8000-000000000404"
	StateCustomerOrders = "customer pact-user has orders"
)

const (
	ExistingOrderID = "7b3f0a52-3c1e-4a8e-9a57-2f4d7f1f8c11"
	MissingOrderID  = "00000000-0000-4000-8000-000000000404"
	CustomerID      = "pact-user"
	RestaurantID    = "pact-restaurant"
	ItemName        = "pasta"
	ItemQuantity    = 2
	TotalPrice      = "20"
)

const (
	UUIDPattern      = `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`
	TimestampPattern = `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`
	StatusPattern    = `^(PENDING|CONFIRMED|OUT_FOR_DELIVERY|DELIVERED)$`
	ExampleTimestamp = "2026-06-12T10:00:00Z"
)

// PactDir returns the workspace-level directory for generated pact files.
func PactDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "pacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact dir: %v", err)
	}
	return dir
}

// PactFile returns the pact file written by the order portal consumer.
func PactFile(t testing.TB) string {
	t.Helper()
	return filepath.Join(PactDir(t), ConsumerName+"-"+ProviderName+".json")
}

// LogDir returns the log output directory for pact-go.
func LogDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "bin", "pact-logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact log dir: %v", err)
	}
	return dir
}

// ExampleSubmission is the order the portal submits.
func ExampleSubmission() map[string]any {
	return map[string]any{
		"userId":       CustomerID,
		"restaurantId": RestaurantID,
		"items":        []map[string]any{{"itemName": ItemName, "quantity": ItemQuantity}},
		"totalPrice":   TotalPrice,
	}
}

func projectRoot(t testing.TB) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine caller for pact paths")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
