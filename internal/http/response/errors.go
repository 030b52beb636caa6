package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/platform/apierr"
)

// FromError maps domain failures onto HTTP status and error code.
func FromError(err error) *apierr.Error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, types.ErrAuthExpired):
		return apierr.New(http.StatusUnauthorized, "auth_expired", err)
	case errors.Is(err, types.ErrNotFound):
		return apierr.New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, types.ErrRunConflict):
		return apierr.New(http.StatusConflict, "run_conflict", err)
	case errors.Is(err, types.ErrInvalidState):
		return apierr.New(http.StatusConflict, "invalid_state", err)
	case errors.Is(err, types.ErrPlanningFailed):
		if errors.Is(err, context.DeadlineExceeded) {
			return apierr.New(http.StatusGatewayTimeout, "planning_timeout", err)
		}
		return apierr.New(http.StatusBadGateway, "planning_failed", err)
	case errors.Is(err, types.ErrEmptyPlan):
		return apierr.New(http.StatusUnprocessableEntity, "empty_plan", err)
	case errors.Is(err, types.ErrInvalidPlan):
		return apierr.New(http.StatusUnprocessableEntity, "invalid_plan", err)
	case errors.Is(err, types.ErrWritingFailed):
		return apierr.New(http.StatusBadGateway, "writing_failed", err)
	case errors.Is(err, types.ErrAssembly):
		return apierr.New(http.StatusUnprocessableEntity, "assembly_failed", err)
	default:
		return apierr.New(http.StatusInternalServerError, "internal", err)
	}
}

// RespondAPIError writes the envelope for err. The full error is kept on the
// gin context for the request log; internal messages are not echoed.
func RespondAPIError(c *gin.Context, err error) {
	ae := FromError(err)
	_ = c.Error(ae)
	RespondError(c, ae.Status, ae.Code, errors.New(ae.Message()))
}
