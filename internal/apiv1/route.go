// Package apiv1 wires the public HTTPS surface: health, the server
// certificate, route computation and unlock-challenge issuance.
package apiv1

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"navign/internal/apperr"
	"navign/internal/httpserver"
	"navign/pkg/catalog"
	"navign/pkg/model"
	"navign/pkg/pathfind"
)

// instructionView is the wire shape the route endpoint renders: a
// single-key object whose value is a positional array, not the richer
// internal model.RouteInstruction struct.
type instructionView struct {
	Move      []float64 `json:"move,omitempty"`
	Transport []string  `json:"transport,omitempty"`
}

func viewInstructions(instructions []model.RouteInstruction) []instructionView {
	out := make([]instructionView, 0, len(instructions))
	for _, ins := range instructions {
		switch ins.Kind {
		case model.InstructionMove:
			out = append(out, instructionView{Move: []float64{ins.X, ins.Y}})
		case model.InstructionTransport:
			out = append(out, instructionView{Transport: []string{ins.ConnectionID, ins.TargetAreaID, string(ins.ConnectionType)}})
		}
	}
	return out
}

// disallowToLimits maps the `disallow` query parameter's character set
// onto a ConnectivityLimits: e=escalator, s=stairs, c=elevator ("cabin").
// Unrecognized characters are ignored.
func disallowToLimits(raw string) pathfind.ConnectivityLimits {
	limits := pathfind.DefaultConnectivityLimits()
	for _, ch := range raw {
		switch ch {
		case 'e':
			limits.Escalator = false
		case 's':
			limits.Stairs = false
		case 'c':
			limits.Elevator = false
		}
	}
	return limits
}

// parseLocation resolves the `from`/`to` query parameter forms: either a
// literal "x,y,area_id" triple or a bare merchant_id looked up in the
// catalog.
func parseLocation(raw string, cat *catalog.Catalog) (model.Point, string, error) {
	parts := strings.Split(raw, ",")
	if len(parts) == 3 {
		x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		areaID := strings.TrimSpace(parts[2])
		if errX == nil && errY == nil && areaID != "" {
			return model.Point{X: x, Y: y}, areaID, nil
		}
	}

	m, err := cat.ResolveMerchant(raw)
	if err != nil {
		return model.Point{}, "", fmt.Errorf("apiv1: unresolvable location %q: %w", raw, err)
	}
	return m.Point, m.AreaID, nil
}

// RouteHandlers serves the /api/entities/:entity/route endpoint.
type RouteHandlers struct {
	Catalog *catalog.Catalog
}

// Route computes and renders a route between the from/to query locations,
// scoped to the entity named in the path (a building/venue owns a set of
// areas; routing never crosses entities).
func (h *RouteHandlers) Route(c *gin.Context) (any, error) {
	entity := c.Param("entity")
	from := c.Query("from")
	to := c.Query("to")
	disallow := c.Query("disallow")

	if from == "" || to == "" {
		return nil, apperr.New(apperr.TitleParseError, http.StatusBadRequest, fmt.Errorf("apiv1: from and to are required"))
	}

	startPos, startArea, err := parseLocation(from, h.Catalog)
	if err != nil {
		return nil, apperr.Wrap(apperr.TitleRoutingError, err)
	}
	endPos, endArea, err := parseLocation(to, h.Catalog)
	if err != nil {
		return nil, apperr.Wrap(apperr.TitleRoutingError, err)
	}

	for _, areaID := range []string{startArea, endArea} {
		area, ok := h.Catalog.Area(areaID)
		if !ok || area.EntityID != entity {
			return nil, apperr.New(apperr.TitleRoutingError, http.StatusUnprocessableEntity, fmt.Errorf("apiv1: area %q is not part of entity %q", areaID, entity))
		}
	}

	limits := disallowToLimits(disallow)

	instructions, err := pathfind.FindRoute(h.Catalog, h.Catalog.Connections(), limits, startArea, endArea, startPos, endPos, time.Now())
	if err != nil {
		return nil, apperr.Wrap(apperr.TitleRoutingError, err)
	}

	return gin.H{"instructions": viewInstructions(instructions)}, nil
}

// Register attaches the route endpoint under a /entities group.
func (h *RouteHandlers) Register(entities *gin.RouterGroup) {
	httpserver.RegEndpoint(entities, http.MethodGet, "/:entity/route", h.Route)
}
