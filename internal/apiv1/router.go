package apiv1

import (
	"github.com/gin-gonic/gin"

	"navign/internal/ratelimit"
)

// Deps bundles the collaborators the v1 API surface needs.
type Deps struct {
	Route   *RouteHandlers
	Unlock  *UnlockHandlers
	System  *SystemHandlers
	Limiter *ratelimit.Limiter
}

// Register wires every public endpoint onto engine.
func Register(engine *gin.Engine, deps Deps) {
	deps.System.Register(engine)

	api := engine.Group("/api")
	if deps.Limiter != nil {
		api.Use(deps.Limiter.Middleware())
	}

	entities := api.Group("/entities")
	deps.Route.Register(entities)
	deps.Unlock.Register(api)
}
