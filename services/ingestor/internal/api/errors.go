package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/database"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func NewHTTPError(statusCode int, message string) HTTPError {
	return HTTPError{StatusCode: statusCode, Message: message}
}

func (e HTTPError) Error() string {
	return e.Message
}

var (
	ErrExchangeNotFound = NewHTTPError(http.StatusNotFound, "exchange not found")
	ErrSymbolNotFound   = NewHTTPError(http.StatusNotFound, "symbol not found")
	ErrNewsNotFound     = NewHTTPError(http.StatusNotFound, "news event not found")
	ErrNoPrice          = NewHTTPError(http.StatusNotFound, "no price recorded for symbol")
	ErrInvalidLimit     = NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	ErrInvalidOffset    = NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
	ErrInvalidID        = NewHTTPError(http.StatusBadRequest, "id must be an integer")
	ErrInvalidTime      = NewHTTPError(http.StatusBadRequest, "from and to must be RFC3339 timestamps")
	ErrJobsUnavailable  = NewHTTPError(http.StatusServiceUnavailable, "scheduler not running")
)

// ErrorHandler renders the first error attached to the context.
func ErrorHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if errors.Is(c.Request.Context().Err(), context.DeadlineExceeded) {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, Response{Error: "request timed out"})
			return
		}
		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors[0].Err

		var he HTTPError
		switch {
		case errors.As(err, &he):
			c.AbortWithStatusJSON(he.StatusCode, Response{Error: he.Message})
		case errors.Is(err, scheduler.ErrJobNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, Response{Error: err.Error()})
		case errors.Is(err, scheduler.ErrJobRunning):
			c.AbortWithStatusJSON(http.StatusConflict, Response{Error: err.Error()})
		case errors.Is(err, database.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, Response{Error: "not found"})
		default:
			logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Error: "internal server error"})
		}
	}
}

// Timeout bounds the request context. Handlers pass it to every store call.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
