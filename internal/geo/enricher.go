package geo

import (
	"context"

	"chathub_backend/platform/logger"
)

// Resolution method for an enrichment.
const (
	MethodCoordinate = "coordinate"
	MethodIPDerived  = "ip-derived"
	MethodUnresolved = "unresolved"
)

// Enrichment is the result of resolving a visitor location to a named area.
// An unresolved enrichment is a valid terminal state, not an error: downstream
// consumers treat it as "unknown location".
type Enrichment struct {
	Method     string   `json:"method"`
	Area       string   `json:"area,omitempty"`
	Point      *Point   `json:"point,omitempty"`
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// Unresolved reports whether the enrichment carries no location.
func (e Enrichment) Unresolved() bool {
	return e.Method == MethodUnresolved
}

// IPResolver resolves an IP address to an approximate coordinate.
// The ok result is false when the address could not be located; retry and
// caching policy belong to the collaborator, not to the enricher.
type IPResolver interface {
	Resolve(ctx context.Context, ip string) (Point, bool, error)
}

// Input carries the location hints available for one conversation.
// An explicit coordinate always wins over the IP address.
type Input struct {
	Point *Point
	IP    string
}

// Enricher resolves coordinates or IP addresses to the nearest catalog area.
type Enricher struct {
	catalog  *Catalog
	resolver IPResolver
	log      *logger.Logger
}

// NewEnricher creates an enricher over the given catalog. The resolver may be
// nil, in which case IP-only inputs always come back unresolved.
func NewEnricher(catalog *Catalog, resolver IPResolver, log *logger.Logger) *Enricher {
	return &Enricher{
		catalog:  catalog,
		resolver: resolver,
		log:      log.WithComponent("geo"),
	}
}

// Enrich resolves the input to a nearest named area. It never returns an
// error: every failure path degrades to an unresolved enrichment so that a
// lead is never blocked on location data.
func (e *Enricher) Enrich(ctx context.Context, input Input) Enrichment {
	if input.Point != nil {
		if err := input.Point.Validate(); err != nil {
			e.log.Warn("ignoring invalid explicit coordinate", "error", err)
			return Enrichment{Method: MethodUnresolved}
		}
		return e.nearest(*input.Point, MethodCoordinate)
	}

	if input.IP == "" || e.resolver == nil {
		return Enrichment{Method: MethodUnresolved}
	}

	point, ok, err := e.resolver.Resolve(ctx, input.IP)
	if err != nil {
		e.log.Warn("ip resolution failed", "ip", input.IP, "error", err)
		return Enrichment{Method: MethodUnresolved}
	}
	if !ok || point.Validate() != nil {
		return Enrichment{Method: MethodUnresolved}
	}

	return e.nearest(point, MethodIPDerived)
}

func (e *Enricher) nearest(p Point, method string) Enrichment {
	entry, dist := e.catalog.Nearest(p)
	return Enrichment{
		Method:     method,
		Area:       entry.Name,
		Point:      &p,
		DistanceKm: &dist,
	}
}
