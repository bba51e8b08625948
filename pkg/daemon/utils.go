package daemon

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/types"
)

func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, types.ErrorResponse{Error: err.Error()})
	_ = c.AbortWithError(code, err)
}

// ginLogger logs every request through logger.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Handlers may rewrite the path.
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1e6))
		statusCode := c.Writer.Status()
		dataLength := max(c.Writer.Size(), 0)

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency,
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": dataLength,
		})

		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		switch {
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()).Error(msg)
		case statusCode >= http.StatusInternalServerError:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}
