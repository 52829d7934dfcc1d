package orderserver

import (
	"errors"

	"github.com/gin-gonic/gin"

	orderapp "github.com/Apurer/order-fulfillment/internal/domains/orders/application"
	orderdomain "github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	orderports "github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
	apierrors "github.com/Apurer/order-fulfillment/internal/shared/errors"
)

var orderResponder = apierrors.NewChainedResponder("", mapOrderError)

func respondBadRequest(c *gin.Context, detail string) {
	apierrors.Respond(c, apierrors.ErrBadRequest.WithDetail(detail))
}

func respondValidation(c *gin.Context, fields map[string]string) {
	apierrors.Respond(c, apierrors.NewValidationProblem(fields))
}

// respondOrderServiceError maps service errors to problem responses. Errors
// outside the known set become an opaque 500.
func respondOrderServiceError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	orderResponder.RespondError(c, err)
}

func mapOrderError(err error) (apierrors.ProblemDetail, bool) {
	var verr *orderdomain.ValidationError
	switch {
	case errors.As(err, &verr):
		return apierrors.NewValidationProblem(verr.Fields), true
	case errors.Is(err, orderapp.ErrInvalidInput):
		return apierrors.ErrValidation.WithDetail(err.Error()), true
	case errors.Is(err, orderports.ErrNotFound):
		return apierrors.ErrNotFound.WithDetail("order not found").WithExtension("resourceType", "order"), true
	default:
		return apierrors.ProblemDetail{}, false
	}
}
