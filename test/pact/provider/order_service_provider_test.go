//go:build pact
// +build pact

package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	pacttest "github.com/Apurer/order-fulfillment/test/pact"

	"github.com/Apurer/order-fulfillment/internal/app/orderservice"
	ordersmemory "github.com/Apurer/order-fulfillment/internal/domains/orders/adapters/memory"
	orderdomain "github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	memorybroker "github.com/Apurer/order-fulfillment/internal/platform/messaging/memory"

	"github.com/gin-gonic/gin"
	"github.com/pact-foundation/pact-go/v2/models"
	pactprovider "github.com/pact-foundation/pact-go/v2/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestOrderServiceProviderPact(t *testing.T) {
	gin.SetMode(gin.TestMode)

	app := newContractProviderApp(t)
	pactFile := filepath.ToSlash(pacttest.PactFile(t))
	if _, err := os.Stat(pactFile); errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pact file not found at %s - run the pact consumer tests first", pactFile)
	} else {
		require.NoError(t, err)
	}

	verifier := pactprovider.NewVerifier()
	stateHandlers := models.StateHandlers{
		pacttest.StateOrdersBaseline: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			return nil, nil
		},
		pacttest.StateOrderExists: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			if setup {
				app.seedOrder(t, pacttest.ExistingOrderID)
			}
			return nil, nil
		},
		pacttest.StateOrderMissing: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			return nil, nil
		},
		pacttest.StateCustomerOrders: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			if setup {
				app.seedOrder(t, pacttest.ExistingOrderID)
			}
			return nil, nil
		},
	}

	err := verifier.VerifyProvider(t, pactprovider.VerifyRequest{
		ProviderBaseURL: app.server.URL,
		Provider:        pacttest.ProviderName,
		PactFiles:       []string{pactFile},
		StateHandlers:   stateHandlers,
		BeforeEach: func() error {
			app.reset(t)
			return nil
		},
	})
	require.NoError(t, err)
}

// contractProviderApp serves a fresh in-memory order service per provider state.
type contractProviderApp struct {
	mu      sync.RWMutex
	repo    *ordersmemory.Repository
	handler http.Handler
	server  *httptest.Server
}

func newContractProviderApp(t testing.TB) *contractProviderApp {
	t.Helper()
	app := &contractProviderApp{}
	app.reset(t)
	app.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.mu.RLock()
		handler := app.handler
		app.mu.RUnlock()
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(app.server.Close)
	return app
}

func (a *contractProviderApp) reset(t testing.TB) {
	t.Helper()
	repo := ordersmemory.NewRepository()
	handler := orderservice.New(orderservice.Config{}, memorybroker.NewBroker(), repo).Handler()
	a.mu.Lock()
	a.repo = repo
	a.handler = handler
	a.mu.Unlock()
}

func (a *contractProviderApp) seedOrder(t testing.TB, id string) {
	t.Helper()
	order, err := orderdomain.NewOrder(
		pacttest.CustomerID,
		pacttest.RestaurantID,
		[]orderdomain.LineItem{{ItemName: pacttest.ItemName, Quantity: pacttest.ItemQuantity}},
		decimal.RequireFromString(pacttest.TotalPrice),
	)
	require.NoError(t, err)
	order.ID = id
	a.mu.RLock()
	repo := a.repo
	a.mu.RUnlock()
	_, err = repo.Create(context.Background(), order)
	require.NoError(t, err)
}
