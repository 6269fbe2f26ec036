package httpserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"navign/internal/apperr"
)

// Content renders body as JSON or XML depending on the request's Accept
// header, defaulting to JSON.
func Content(c *gin.Context, status int, body any) {
	accept := c.GetHeader("Accept")
	if strings.Contains(accept, "xml") {
		c.XML(status, body)
		return
	}
	c.JSON(status, body)
}

// NoRouteHandler renders the RFC 7807 404 problem body for unmatched
// routes.
func NoRouteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		Content(c, http.StatusNotFound, apperr.Problem404())
	}
}
