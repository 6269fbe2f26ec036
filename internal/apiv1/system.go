package apiv1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"navign/pkg/cryptosign"
)

// Pinger reports whether the server's durable dependencies (Postgres) are
// reachable.
type Pinger interface {
	Ping() error
}

// SystemHandlers serves /health and /cert.
type SystemHandlers struct {
	Pinger    Pinger
	PublicKey [cryptosign.PublicKeySize]byte
}

// Health reports "Healthy", or 503 "Unhealthy" when a durable dependency
// is unreachable.
func (h *SystemHandlers) Health(c *gin.Context) {
	if h.Pinger != nil {
		if err := h.Pinger.Ping(); err != nil {
			c.String(http.StatusServiceUnavailable, "Unhealthy")
			return
		}
	}
	c.String(http.StatusOK, "Healthy")
}

// Cert renders the server's public key as a PEM block.
func (h *SystemHandlers) Cert(c *gin.Context) {
	pub, err := cryptosign.DecodePublicKey(h.PublicKey[:])
	if err != nil {
		c.String(http.StatusInternalServerError, "")
		return
	}
	pem, err := cryptosign.EncodePublicKeyPEM(pub)
	if err != nil {
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.Data(http.StatusOK, "application/x-pem-file", pem)
}

// Register attaches /health and /cert at the engine root.
func (h *SystemHandlers) Register(engine *gin.Engine) {
	engine.GET("/health", h.Health)
	engine.GET("/cert", h.Cert)
}
