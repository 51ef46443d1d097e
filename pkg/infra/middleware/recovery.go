package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/medrag/pkg/errors"
	"github.com/kart-io/medrag/pkg/response"
)

// RecoveryConfig defines the config for Recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace includes stack trace in error response (for development).
	EnableStackTrace bool

	// OnPanic is called when a panic occurs.
	// Default: logs the panic with its stack.
	OnPanic func(c *gin.Context, err any, stack []byte)
}

// DefaultRecoveryConfig is the default Recovery middleware config.
var DefaultRecoveryConfig = RecoveryConfig{
	OnPanic: logPanic,
}

// Recovery returns a middleware that recovers from panics.
// It converts panics to JSON error responses using the error code system.
func Recovery() gin.HandlerFunc {
	return RecoveryWithConfig(DefaultRecoveryConfig)
}

// RecoveryWithConfig returns a Recovery middleware with custom config.
func RecoveryWithConfig(config RecoveryConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			stack := debug.Stack()
			if config.OnPanic != nil {
				config.OnPanic(c, r, stack)
			}

			var err *errors.Errno
			if config.EnableStackTrace {
				err = errors.ErrInternal.WithMessage(fmt.Sprintf("panic: %v\n%s", r, string(stack)))
			} else {
				err = errors.ErrInternal.WithMessage(fmt.Sprintf("panic: %v", r))
			}
			response.Fail(c, err)
			c.Abort()
		}()
		c.Next()
	}
}

func logPanic(c *gin.Context, err any, stack []byte) {
	logger.Errorw("HTTP handler panic",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", GetRequestID(c.Request.Context()),
		"panic", fmt.Sprint(err),
		"stack", string(stack),
	)
}
