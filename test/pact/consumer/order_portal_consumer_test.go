//go:build pact
// +build pact

package consumer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	pacttest "github.com/Apurer/order-fulfillment/test/pact"

	pactconsumer "github.com/pact-foundation/pact-go/v2/consumer"
	pactlog "github.com/pact-foundation/pact-go/v2/log"
	"github.com/pact-foundation/pact-go/v2/matchers"
	"github.com/stretchr/testify/require"
)

type lineItem struct {
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

type orderPayload struct {
	ID           string     `json:"orderId"`
	UserID       string     `json:"userId"`
	RestaurantID string     `json:"restaurantId"`
	Items        []lineItem `json:"items"`
	TotalPrice   string     `json:"totalPrice"`
	Status       string     `json:"status"`
}

type problemDetail struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Extensions map[string]any `json:"extensions"`
}

type apiError struct {
	status  int
	problem problemDetail
}

func (e apiError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.problem.Title, e.status)
}

func orderMatcher(id any, status string) matchers.Map {
	return matchers.Map{
		"orderId":      id,
		"userId":       matchers.Like(pacttest.CustomerID),
		"restaurantId": matchers.Like(pacttest.RestaurantID),
		"items": matchers.EachLike(matchers.Map{
			"itemName": matchers.Like(pacttest.ItemName),
			"quantity": matchers.Like(pacttest.ItemQuantity),
		}, 1),
		"totalPrice": matchers.Like(pacttest.TotalPrice),
		"status":     matchers.Term(status, pacttest.StatusPattern),
		"createdAt":  matchers.Term(pacttest.ExampleTimestamp, pacttest.TimestampPattern),
		"updatedAt":  matchers.Term(pacttest.ExampleTimestamp, pacttest.TimestampPattern),
	}
}

func TestOrderPortalContract(t *testing.T) {
	pactlog.SetLogLevel("INFO")

	pact, err := pactconsumer.NewV2Pact(pactconsumer.MockHTTPProviderConfig{
		Consumer: pacttest.ConsumerName,
		Provider: pacttest.ProviderName,
		PactDir:  pacttest.PactDir(t),
		LogDir:   pacttest.LogDir(t),
	})
	require.NoError(t, err)

	jsonContentType := matchers.Regex("application/json; charset=utf-8", "application\\/json(?:;\\s?charset=utf-8)?")
	problemContentType := matchers.S("application/problem+json")
	submission := pacttest.ExampleSubmission()
	generatedID := matchers.Term(pacttest.ExistingOrderID, pacttest.UUIDPattern)

	pact.AddInteraction().
		Given(pacttest.StateOrdersBaseline).
		UponReceiving("a request to submit an order").
		WithRequest("POST", "/orders", func(b *pactconsumer.V2RequestBuilder) {
			b.Header("Content-Type", matchers.S("application/json"))
			b.JSONBody(matchers.Map{
				"userId":       matchers.Like(submission["userId"]),
				"restaurantId": matchers.Like(submission["restaurantId"]),
				"items": matchers.EachLike(matchers.Map{
					"itemName": matchers.Like(pacttest.ItemName),
					"quantity": matchers.Like(pacttest.ItemQuantity),
				}, 1),
				"totalPrice": matchers.Like(pacttest.TotalPrice),
			})
		}).
		WillRespondWith(http.StatusCreated, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", jsonContentType)
			b.JSONBody(orderMatcher(generatedID, "PENDING"))
		})

	pact.AddInteraction().
		Given(pacttest.StateOrdersBaseline).
		UponReceiving("a request to submit an order without items").
		WithRequest("POST", "/orders", func(b *pactconsumer.V2RequestBuilder) {
			b.Header("Content-Type", matchers.S("application/json"))
			b.JSONBody(map[string]any{
				"userId":       pacttest.CustomerID,
				"restaurantId": pacttest.RestaurantID,
				"items":        []any{},
				"totalPrice":   pacttest.TotalPrice,
			})
		}).
		WillRespondWith(http.StatusBadRequest, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", problemContentType)
			b.JSONBody(matchers.Map{
				"type":   matchers.S("/problems/validation-error"),
				"title":  matchers.S("Validation Error"),
				"status": matchers.Like(http.StatusBadRequest),
				"extensions": matchers.Map{
					"fields": matchers.Map{"items": matchers.Like("must contain at least one line item")},
				},
			})
		})

	pact.AddInteraction().
		Given(pacttest.StateOrderExists).
		UponReceiving("a request to fetch an existing order").
		WithRequest("GET", "/orders/"+pacttest.ExistingOrderID).
		WillRespondWith(http.StatusOK, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", jsonContentType)
			b.JSONBody(orderMatcher(pacttest.ExistingOrderID, "PENDING"))
		})

	pact.AddInteraction().
		Given(pacttest.StateOrderMissing).
		UponReceiving("a request for a missing order").
		WithRequest("GET", "/orders/"+pacttest.MissingOrderID).
		WillRespondWith(http.StatusNotFound, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", problemContentType)
			b.JSONBody(matchers.Map{
				"type":   matchers.S("/problems/not-found"),
				"title":  matchers.S("Resource Not Found"),
				"status": matchers.Like(http.StatusNotFound),
			})
		})

	pact.AddInteraction().
		Given(pacttest.StateCustomerOrders).
		UponReceiving("a request for a customer's orders").
		WithRequest("GET", "/users/"+pacttest.CustomerID+"/orders").
		WillRespondWith(http.StatusOK, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", jsonContentType)
			b.JSONBody(matchers.EachLike(orderMatcher(generatedID, "PENDING"), 1))
		})

	err = pact.ExecuteTest(t, func(config pactconsumer.MockServerConfig) error {
		client := newOrderClient(config)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		created, err := client.Submit(ctx, submission)
		if err != nil {
			return fmt.Errorf("submit order: %w", err)
		}
		if created.ID == "" || created.Status != "PENDING" {
			return fmt.Errorf("expected a pending order with an id, got %+v", created)
		}

		_, err = client.Submit(ctx, map[string]any{
			"userId":       pacttest.CustomerID,
			"restaurantId": pacttest.RestaurantID,
			"items":        []any{},
			"totalPrice":   pacttest.TotalPrice,
		})
		apiErr, ok := err.(apiError)
		if !ok || apiErr.status != http.StatusBadRequest {
			return fmt.Errorf("expected 400 for an order without items, got %v", err)
		}

		fetched, err := client.Get(ctx, pacttest.ExistingOrderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if fetched.ID != pacttest.ExistingOrderID {
			return fmt.Errorf("expected order %s, got %+v", pacttest.ExistingOrderID, fetched)
		}

		if _, err := client.Get(ctx, pacttest.MissingOrderID); err == nil {
			return fmt.Errorf("expected 404 for order %s", pacttest.MissingOrderID)
		} else if apiErr, ok := err.(apiError); ok && apiErr.status != http.StatusNotFound {
			return fmt.Errorf("expected 404, got %d", apiErr.status)
		}

		orders, err := client.ListCustomer(ctx, pacttest.CustomerID)
		if err != nil {
			return fmt.Errorf("list customer orders: %w", err)
		}
		if len(orders) == 0 {
			return fmt.Errorf("expected at least one order for %s", pacttest.CustomerID)
		}
		return nil
	})
	require.NoError(t, err)
}

type orderClient struct {
	baseURL    string
	httpClient *http.Client
}

func newOrderClient(config pactconsumer.MockServerConfig) *orderClient {
	host := config.Host
	if host == "" {
		host = "localhost"
	}
	transport := &http.Transport{TLSClientConfig: config.TLSConfig}
	return &orderClient{
		baseURL:    fmt.Sprintf("http://%s:%d", host, config.Port),
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
	}
}

func (c *orderClient) Submit(ctx context.Context, body map[string]any) (*orderPayload, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var order orderPayload
	if err := c.do(req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *orderClient) Get(ctx context.Context, id string) (*orderPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+id, nil)
	if err != nil {
		return nil, err
	}
	var order orderPayload
	if err := c.do(req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *orderClient) ListCustomer(ctx context.Context, customerID string) ([]orderPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+customerID+"/orders", nil)
	if err != nil {
		return nil, err
	}
	var orders []orderPayload
	if err := c.do(req, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *orderClient) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		var problem problemDetail
		_ = json.NewDecoder(res.Body).Decode(&problem)
		return apiError{status: res.StatusCode, problem: problem}
	}
	return json.NewDecoder(res.Body).Decode(out)
}
