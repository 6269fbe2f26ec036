// Package catalog is the authoritative flat store for the routing surface:
// one table of areas, one of connections, one of merchants, all keyed by
// id, with resolution done by lookup rather than by object graph. CRUD
// management of this data belongs to an external admin surface, so this is
// an in-memory table seeded once at startup.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"navign/pkg/geometry"
	"navign/pkg/model"
)

// Merchant is a named point of interest resolvable by id, the bare
// merchant_id form of the route endpoint's from/to query parameters.
type Merchant struct {
	ID     string      `json:"id"`
	AreaID string      `json:"area_id"`
	Point  model.Point `json:"point"`
}

// Catalog is a concurrency-safe in-memory lookup table for areas,
// connections and merchants.
type Catalog struct {
	mu          sync.RWMutex
	areas       map[string]model.Area
	connections []model.Connection
	merchants   map[string]Merchant
}

// New builds an empty Catalog.
func New() *Catalog {
	return &Catalog{
		areas:     make(map[string]model.Area),
		merchants: make(map[string]Merchant),
	}
}

// PutArea registers or replaces an area after validating its polygon.
func (c *Catalog) PutArea(a model.Area) error {
	if err := a.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.areas[a.ID] = a
	return nil
}

// Area satisfies pkg/pathfind's AreaStore interface.
func (c *Catalog) Area(id string) (model.Area, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.areas[id]
	return a, ok
}

// PutConnection registers a connection between two areas, checking that
// every endpoint lies inside its referenced area's polygon.
func (c *Catalog) PutConnection(conn model.Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range conn.Endpoints {
		a, ok := c.areas[e.AreaID]
		if !ok {
			return fmt.Errorf("catalog: connection %s references unknown area %s", conn.ID, e.AreaID)
		}
		if !geometry.IsPointInside(a.Polygon, model.Point{X: e.EntryX, Y: e.EntryY}) {
			return fmt.Errorf("catalog: connection %s endpoint (%g, %g) lies outside area %s", conn.ID, e.EntryX, e.EntryY, e.AreaID)
		}
	}
	c.connections = append(c.connections, conn)
	return nil
}

// Connections returns a snapshot of every registered connection.
func (c *Catalog) Connections() []model.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Connection, len(c.connections))
	copy(out, c.connections)
	return out
}

// PutMerchant registers or replaces a merchant's resolvable location.
func (c *Catalog) PutMerchant(m Merchant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.merchants[m.ID] = m
}

// File is the on-disk JSON seed: the full set of areas, connections and
// merchants the server routes over.
type File struct {
	Areas       []model.Area       `json:"areas"`
	Connections []model.Connection `json:"connections"`
	Merchants   []Merchant         `json:"merchants"`
}

// LoadFile builds a Catalog from a JSON seed file, validating every area
// polygon and connection endpoint on the way in.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parsing %s: %w", path, err)
	}

	c := New()
	for _, a := range f.Areas {
		if err := c.PutArea(a); err != nil {
			return nil, err
		}
	}
	for _, conn := range f.Connections {
		if err := c.PutConnection(conn); err != nil {
			return nil, err
		}
	}
	for _, m := range f.Merchants {
		c.PutMerchant(m)
	}
	return c, nil
}

// ErrMerchantNotFound is returned by ResolveMerchant for an unknown id.
var ErrMerchantNotFound = fmt.Errorf("catalog: merchant not found")

// ResolveMerchant looks up the area and point a bare merchant_id refers to.
func (c *Catalog) ResolveMerchant(id string) (Merchant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.merchants[id]
	if !ok {
		return Merchant{}, ErrMerchantNotFound
	}
	return m, nil
}
