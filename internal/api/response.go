package api

import (
	"net/http"
	"strconv"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrorBody is the error part of the envelope
type ErrorBody struct {
	Code    apperror.Kind `json:"code"`
	Message string        `json:"message"`
	Details interface{}   `json:"details,omitempty"`
}

// Envelope wraps every API response
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

// respond writes a success envelope
func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: timestamp(),
	})
}

// respondError classifies err and writes the matching failure envelope.
// Causes of internal errors are logged and never leave the process.
func respondError(c *gin.Context, err error) {
	appErr := apperror.As(err)
	status := appErr.Kind.HTTPStatus()

	logger := util.LoggerFrom(c.Request.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", string(appErr.Kind)),
			zap.Error(err),
		)
	} else {
		logger.Debug("Request rejected",
			zap.String("path", c.FullPath()),
			zap.String("code", string(appErr.Kind)),
			zap.String("message", appErr.Message),
		)
	}

	body := &ErrorBody{Code: appErr.Kind, Message: appErr.Message}
	switch {
	case len(appErr.Violations) > 0:
		body.Details = appErr.Violations
	case appErr.Kind == apperror.KindBackend && appErr.UpstreamStatus != 0:
		body.Details = gin.H{"upstreamStatus": appErr.UpstreamStatus}
	case appErr.Kind == apperror.KindRateLimited && appErr.RetryAfterSeconds > 0:
		body.Details = gin.H{"retryAfterSeconds": appErr.RetryAfterSeconds}
	}

	if appErr.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds))
	}

	c.AbortWithStatusJSON(status, Envelope{
		Error:     body,
		Timestamp: timestamp(),
	})
}
