package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-fulfillment/internal/platform/messaging/memory"
)

func TestReporter_ReportsDependencies(t *testing.T) {
	broker := memory.NewBroker()
	reporter := NewReporter("order-service").
		With("broker", Broker(broker)).
		With("database", Database(nil))

	report := reporter.Report(context.Background())
	assert.Equal(t, "order-service", report["service"])
	assert.Equal(t, "healthy", report["status"])
	assert.Equal(t, StateConnected, report["broker"])
	assert.Equal(t, StateDisabled, report["database"])

	broker.SetAvailable(false)
	assert.Equal(t, StateDisconnected, reporter.Report(context.Background())["broker"])
}

func TestReporter_HandleStaysHealthyDuringOutage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broker := memory.NewBroker()
	broker.SetAvailable(false)
	reporter := NewReporter("payment-worker").With("broker", Broker(broker))

	router := gin.New()
	router.GET("/health", reporter.Handle)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, StateDisconnected, body["broker"])
}
