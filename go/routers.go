package orderserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Route is the information for every URI.
type Route struct {
	// Name is the name of this Route.
	Name string
	// Method is the string for the HTTP method. ex) GET, POST etc..
	Method string
	// Pattern is the pattern of the URI.
	Pattern string
	// HandlerFunc is the handler function of this route.
	HandlerFunc gin.HandlerFunc
}

// ApiHandleFunctions groups the handlers served by the order service.
type ApiHandleFunctions struct {
	OrderAPI OrderAPI
	// Health answers the liveness probe. Nil disables the route.
	Health gin.HandlerFunc
}

// NewRouter returns a new router.
func NewRouter(handleFunctions ApiHandleFunctions) *gin.Engine {
	return NewRouterWithGinEngine(gin.Default(), handleFunctions)
}

// NewRouterWithGinEngine adds the routes to an existing gin engine.
func NewRouterWithGinEngine(router *gin.Engine, handleFunctions ApiHandleFunctions) *gin.Engine {
	for _, route := range getRoutes(handleFunctions) {
		if route.HandlerFunc == nil {
			continue
		}
		router.Handle(route.Method, route.Pattern, route.HandlerFunc)
	}
	return router
}

func getRoutes(handleFunctions ApiHandleFunctions) []Route {
	return []Route{
		{
			"CreateOrder",
			http.MethodPost,
			"/orders",
			handleFunctions.OrderAPI.CreateOrder,
		},
		{
			"ListOrders",
			http.MethodGet,
			"/orders",
			handleFunctions.OrderAPI.ListOrders,
		},
		{
			"GetOrderById",
			http.MethodGet,
			"/orders/:orderId",
			handleFunctions.OrderAPI.GetOrderById,
		},
		{
			"ListCustomerOrders",
			http.MethodGet,
			"/users/:customerId/orders",
			handleFunctions.OrderAPI.ListCustomerOrders,
		},
		{
			"Health",
			http.MethodGet,
			"/health",
			handleFunctions.Health,
		},
	}
}
