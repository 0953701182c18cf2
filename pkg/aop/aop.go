// Package aop provides the gin middlewares shared by all HTTP routes:
// access logging and panic recovery, both writing through toolkits logger.
package aop

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolkits/pkg/ginx"
	"github.com/toolkits/pkg/logger"
)

// Logger returns a middleware that writes one access log line per request.
func Logger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if _, ok := skip[path]; ok {
			return
		}

		if raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency - latency%time.Second
		}

		logger.Infof("[GIN] %3d | %13v | %15s | %-7s %s %s",
			c.Writer.Status(),
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
			c.Errors.ByType(gin.ErrorTypePrivate).String(),
		)
	}
}

// Recovery returns a middleware that recovers from panics, logs the stack
// and replies 500. Broken-pipe style panics are logged without a reply since
// the connection is already gone.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				// ginx.Bomb panics carry their own status code and message
				if he, ok := err.(ginx.HTTPError); ok {
					c.JSON(he.Code, gin.H{"err": he.Error()})
					c.Abort()
					return
				}

				var brokenPipe bool
				if ne, ok := err.(*net.OpError); ok {
					if se, ok := ne.Err.(*os.SyscallError); ok {
						msg := strings.ToLower(se.Error())
						if strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer") {
							brokenPipe = true
						}
					}
				}

				httpRequest, _ := httputil.DumpRequest(c.Request, false)
				if brokenPipe {
					logger.Errorf("%v\n%s", err, string(httpRequest))
					c.Error(err.(error))
					c.Abort()
					return
				}

				logger.Errorf("[Recovery] panic recovered: %v\n%s\n%s", err, string(httpRequest), stack(3))
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func stack(skip int) string {
	var b strings.Builder
	for i := skip; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		name := "unknown"
		if fn != nil {
			name = fn.Name()
		}
		fmt.Fprintf(&b, "%s:%d (%s)\n", file, line, name)
	}
	return b.String()
}
