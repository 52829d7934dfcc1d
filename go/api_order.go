package orderserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	orderhttpmapper "github.com/Apurer/order-fulfillment/internal/domains/orders/adapters/http/mapper"
	orderports "github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
	apierrors "github.com/Apurer/order-fulfillment/internal/shared/errors"
)

// OrderAPI wires HTTP transport with the orders service.
type OrderAPI struct {
	service orderports.Service
}

// NewOrderAPI creates an OrderAPI backed by the provided service.
func NewOrderAPI(service orderports.Service) OrderAPI {
	return OrderAPI{service: service}
}

// Post /orders
// Submit a new order
func (api *OrderAPI) CreateOrder(c *gin.Context) {
	var payload orderhttpmapper.CreateOrder
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "request body must be a JSON order")
		return
	}
	input, fields := orderhttpmapper.ToSubmitInput(payload)
	if len(fields) > 0 {
		respondValidation(c, fields)
		return
	}
	order, err := api.service.SubmitOrder(c.Request.Context(), input)
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderhttpmapper.FromDomainOrder(order))
}

// Get /orders/:orderId
// Find order by ID
func (api *OrderAPI) GetOrderById(c *gin.Context) {
	id := c.Param("orderId")
	order, err := api.service.GetOrder(c.Request.Context(), id)
	if errors.Is(err, orderports.ErrNotFound) {
		apierrors.Respond(c, apierrors.NewNotFoundProblem("order", id))
		return
	}
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderhttpmapper.FromDomainOrder(order))
}

// Get /orders
// List every order, newest first
func (api *OrderAPI) ListOrders(c *gin.Context) {
	orders, err := api.service.ListAll(c.Request.Context())
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderhttpmapper.FromDomainOrders(orders))
}

// Get /users/:customerId/orders
// List a customer's orders, newest first
func (api *OrderAPI) ListCustomerOrders(c *gin.Context) {
	orders, err := api.service.ListOrders(c.Request.Context(), c.Param("customerId"))
	if err != nil {
		respondOrderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderhttpmapper.FromDomainOrders(orders))
}
