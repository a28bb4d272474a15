package response

import (
	"errors"
	"net/http"
	"strconv"

	"tracking-guardian/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// genericMessage is what production clients see for 4xx rejections so a
// probing client cannot distinguish missing-shop from wrong-signature.
const genericMessage = "Invalid request"

// AcceptedResponse is the 202 envelope returned for an enqueued batch.
type AcceptedResponse struct {
	AcceptedCount int      `json:"accepted_count"`
	Errors        []string `json:"errors"`
}

// Accepted sends a 202 with the accepted event count.
func Accepted(c *gin.Context, count int) {
	setRequestID(c)
	c.JSON(http.StatusAccepted, AcceptedResponse{
		AcceptedCount: count,
		Errors:        []string{},
	})
}

// NoContent sends a 204 silent drop. The client must not retry.
func NoContent(c *gin.Context) {
	setRequestID(c)
	c.Status(http.StatusNoContent)
}

// Error renders an error response, homogenizing 4xx bodies in production.
func Error(c *gin.Context, production bool, err error) {
	setRequestID(c)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.InternalError(err)
	}

	if appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}

	body := gin.H{}
	switch {
	case appErr.HTTPStatus == http.StatusTooManyRequests:
		body["error"] = appErr.Message
		body["retryAfter"] = appErr.RetryAfter
	case appErr.HTTPStatus == http.StatusServiceUnavailable:
		body["error"] = "Service Unavailable"
		body["message"] = appErr.Message
	case appErr.HTTPStatus >= http.StatusInternalServerError:
		body["error"] = "Internal server error"
	case production:
		body["error"] = genericMessage
	default:
		body["error"] = appErr.Message
		if appErr.Details != nil {
			for k, v := range appErr.Details {
				body[k] = v
			}
		}
	}

	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}

// setRequestID mirrors the request id chosen at the head of the chain into
// the response headers. Falls back to a fresh id if the context middleware
// did not run (tests, health endpoints).
func setRequestID(c *gin.Context) {
	if c.Writer.Header().Get("X-Request-Id") != "" {
		return
	}
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			c.Header("X-Request-Id", s)
			return
		}
	}
	c.Header("X-Request-Id", uuid.New().String())
}
