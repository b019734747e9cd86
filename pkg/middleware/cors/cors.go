package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qbank-api/pkg/middleware/requestid"
)

// SkippedFilesHeader mirrors the assembly response header listing unrendered files.
const SkippedFilesHeader = "X-Skipped-Files"

var (
	allowHeaders  = strings.Join([]string{"Authorization", "x-access-token", "Origin", "Content-Type", "Accept", requestid.HeaderKey}, ", ")
	exposeHeaders = strings.Join([]string{"Content-Disposition", "Content-Length", requestid.HeaderKey, SkippedFilesHeader}, ", ")
)

// New returns a CORS middleware that honors a list of allowed origins. An empty list allows any origin.
// Downloads expose Content-Disposition and the skipped-file count so browsers can read them.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if !allowAll && !hasOrigin(originSet, origin) {
				if c.Request.Method == http.MethodOptions {
					c.AbortWithStatus(http.StatusForbidden)
					return
				}
				c.Next()
				return
			}
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else if allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		h := c.Writer.Header()
		h.Set("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", exposeHeaders)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func hasOrigin(originSet map[string]struct{}, origin string) bool {
	origin = strings.TrimRight(origin, "/")
	_, ok := originSet[origin]
	return ok
}
