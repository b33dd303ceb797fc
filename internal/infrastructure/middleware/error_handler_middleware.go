package middleware

import (
	"net/http"
	"runtime/debug"

	"p2prelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error attached with c.Error.
// AppErrors keep their code and status; anything else becomes a 500.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := errors.From(c.Errors.Last().Err)

		fields := []interface{}{
			"code", appErr.Code,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"request_id", c.GetString(RequestIDKey),
		}
		if appErr.Cause != nil {
			fields = append(fields, "cause", appErr.Cause.Error())
		}
		if appErr.Status() >= http.StatusInternalServerError {
			logger.Errorw(appErr.Message, fields...)
		} else {
			logger.Debugw(appErr.Message, fields...)
		}

		c.JSON(appErr.Status(), appErr.Body())
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				abortWith(c, errors.New(errors.CodeInternal, "internal server error"))
			}
		}()

		c.Next()
	}
}
