package middleware

import (
	"errors"
	"net/http"

	"waypool-chat/internal/transport/httpdto"
	waypool_errors "waypool-chat/pkg/errors"
	"waypool-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		if l != nil {
			l.Errorf("request error: %s", err.Error())
		}
		status, code := statusOf(err)
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), code))
	}
}

func statusOf(err error) (int, string) {
	switch {
	case waypool_errors.IsValidation(err):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, waypool_errors.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case waypool_errors.IsAuthorization(err):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, waypool_errors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, waypool_errors.ErrQueueFull), errors.Is(err, waypool_errors.ErrRateLimited):
		return http.StatusTooManyRequests, "TOO_MANY_REQUESTS"
	case errors.Is(err, waypool_errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
