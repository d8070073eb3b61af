package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

// CORSMiddleware answers preflight requests and sets CORS headers for the
// given origins; an empty list allows any origin. Clients authenticate with
// a bearer token, so credentialed (cookie) requests are never allowed.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	wrap := cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})
	return func(c *gin.Context) {
		passed := false
		wrap(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
		})).ServeHTTP(c.Writer, c.Request)

		// Preflight requests are answered without reaching the next handler.
		if !passed {
			c.Abort()
			return
		}
		c.Next()
	}
}
