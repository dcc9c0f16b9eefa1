package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-results-api/pkg/logger"
	"github.com/noah-isme/sma-results-api/pkg/middleware/requestid"
)

var (
	allowHeaders  = strings.Join([]string{"Content-Type", requestid.HeaderKey, logger.TenantHeader}, ", ")
	allowMethods  = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}, ", ")
	exposeHeaders = strings.Join([]string{requestid.HeaderKey, "Retry-After", "Content-Disposition"}, ", ")
)

// policy answers whether a browser origin may call the API. An empty allow list admits everyone.
type policy map[string]struct{}

func newPolicy(origins []string) policy {
	p := make(policy, len(origins))
	for _, origin := range origins {
		p[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return p
}

func (p policy) allows(origin string) bool {
	if len(p) == 0 {
		return true
	}
	_, ok := p[strings.TrimRight(origin, "/")]
	return ok
}

// New returns CORS middleware for the given origins. Preflight requests end here with 204.
func New(allowedOrigins []string) gin.HandlerFunc {
	p := newPolicy(allowedOrigins)
	return func(c *gin.Context) {
		h := c.Writer.Header()
		switch origin := c.GetHeader("Origin"); {
		case origin != "" && p.allows(origin):
			h.Set("Access-Control-Allow-Origin", origin)
		case origin == "" && len(p) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Vary", "Origin")
		h.Set("Access-Control-Expose-Headers", exposeHeaders)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
