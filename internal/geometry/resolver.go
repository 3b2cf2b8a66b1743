package geometry

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"hdbresale/server/internal/models"
)

type indexed struct {
	Boundary
	bound orb.Bound
}

type resolution struct {
	name string
	ok   bool
}

// Resolver maps coordinates to planning areas. Boundaries are scanned in the
// order they were given and the first containing one wins.
type Resolver struct {
	logger     *logrus.Logger
	boundaries []indexed
	memo       map[string]resolution
	memoLock   sync.RWMutex
}

func NewResolver(boundaries []Boundary, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}

	idx := make([]indexed, 0, len(boundaries))
	for _, b := range boundaries {
		idx = append(idx, indexed{Boundary: b, bound: b.Shape.Bound()})
	}

	return &Resolver{
		logger:     logger,
		boundaries: idx,
		memo:       make(map[string]resolution),
	}
}

// Resolve returns the planning area containing coord, or false when none
// does.
func (r *Resolver) Resolve(coord models.Coordinate) (string, bool) {
	p := orb.Point{coord.Longitude, coord.Latitude}
	for _, b := range r.boundaries {
		if !b.bound.Contains(p) {
			continue
		}
		if b.Shape.Contains(p) {
			return b.Name, true
		}
	}
	return "", false
}

// ResolveAddress is Resolve memoized by address key. An address keeps the
// answer it first got for the lifetime of the resolver.
func (r *Resolver) ResolveAddress(address string, coord models.Coordinate) (string, bool) {
	r.memoLock.RLock()
	res, ok := r.memo[address]
	r.memoLock.RUnlock()
	if ok {
		return res.name, res.ok
	}

	name, found := r.Resolve(coord)

	r.memoLock.Lock()
	if prev, ok := r.memo[address]; ok {
		r.memoLock.Unlock()
		return prev.name, prev.ok
	}
	r.memo[address] = resolution{name: name, ok: found}
	r.memoLock.Unlock()

	if !found {
		r.logger.WithFields(logrus.Fields{
			"address":   address,
			"latitude":  coord.Latitude,
			"longitude": coord.Longitude,
		}).Debug("No planning area contains address")
	}
	return name, found
}

func (r *Resolver) Len() int {
	return len(r.boundaries)
}

func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.boundaries))
	for _, b := range r.boundaries {
		names = append(names, b.Name)
	}
	return names
}

func (r *Resolver) Boundaries() []Boundary {
	out := make([]Boundary, 0, len(r.boundaries))
	for _, b := range r.boundaries {
		out = append(out, b.Boundary)
	}
	return out
}

func (r *Resolver) FeatureCollection() *geojson.FeatureCollection {
	return FeatureCollection(r.Boundaries())
}
