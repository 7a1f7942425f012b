package middleware

import "github.com/gin-gonic/gin"

// VersionHeader is the response header carrying the API version.
const VersionHeader = "X-API-Version"

// Version stamps every response with the API version.
func Version(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(VersionHeader, version)
		c.Next()
	}
}
