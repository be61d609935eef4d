// Package geo decides whether a coordinate lies within an approved site
// boundary. The verifier is stateless and fully reentrant.
package geo

import (
	"math"
	"sort"

	"attend-sync/internal/models"
)

// Result is the outcome of a geofence check.
type Result string

const (
	Inside        Result = "inside"
	Outside       Result = "outside"
	Indeterminate Result = "indeterminate"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lng float64
}

// Verifier evaluates geofence membership with accuracy gating.
type Verifier struct {
	// defaultCeilingM is used when a site does not override the ceiling.
	defaultCeilingM float64
}

// NewVerifier creates a Verifier with the given default accuracy ceiling
// in meters.
func NewVerifier(defaultCeilingM float64) *Verifier {
	return &Verifier{defaultCeilingM: defaultCeilingM}
}

// Verify checks one site. An accuracy above the ceiling yields
// Indeterminate: an imprecise fix is never accepted as Inside nor
// rejected as a hard Outside; callers must fall back to another method.
func (v *Verifier) Verify(point Point, accuracyMeters float64, site *models.Site) (Result, error) {
	ceiling := v.defaultCeilingM
	if site.AccuracyCeilingM > 0 {
		ceiling = site.AccuracyCeilingM
	}
	if accuracyMeters > ceiling {
		return Indeterminate, nil
	}

	vertices, err := site.Vertices()
	if err != nil {
		return Indeterminate, err
	}
	if pointInPolygon(point, vertices) {
		return Inside, nil
	}
	return Outside, nil
}

// VerifyAny checks overlapping sites in fixed priority order, smallest
// shoelace area first; the first Inside wins. When no site contains the
// point but at least one check was Indeterminate, the overall result is
// Indeterminate.
func (v *Verifier) VerifyAny(point Point, accuracyMeters float64, sites []models.Site) (Result, *models.Site, error) {
	ordered := make([]models.Site, len(sites))
	copy(ordered, sites)
	sort.SliceStable(ordered, func(i, j int) bool {
		return polygonAreaOf(&ordered[i]) < polygonAreaOf(&ordered[j])
	})

	sawIndeterminate := false
	for i := range ordered {
		site := &ordered[i]
		if !site.Active {
			continue
		}
		result, err := v.Verify(point, accuracyMeters, site)
		if err != nil {
			return Indeterminate, nil, err
		}
		switch result {
		case Inside:
			return Inside, site, nil
		case Indeterminate:
			sawIndeterminate = true
		}
	}
	if sawIndeterminate {
		return Indeterminate, nil, nil
	}
	return Outside, nil, nil
}

// pointInPolygon implements ray casting with closed polygon semantics: a
// point exactly on an edge or vertex is Inside, so punches at entrances
// do not flake between accepted and rejected.
func pointInPolygon(p Point, vertices []models.LatLng) bool {
	n := len(vertices)
	if n < 3 {
		return false
	}

	for i := 0; i < n; i++ {
		a := vertices[i]
		b := vertices[(i+1)%n]
		if onSegment(p, a, b) {
			return true
		}
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lng > p.Lng) != (vj.Lng > p.Lng) {
			cross := (vj.Lat-vi.Lat)*(p.Lng-vi.Lng)/(vj.Lng-vi.Lng) + vi.Lat
			if p.Lat < cross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

const boundaryEpsilon = 1e-12

// onSegment reports whether p lies on the segment a-b.
func onSegment(p Point, a, b models.LatLng) bool {
	cross := (b.Lat-a.Lat)*(p.Lng-a.Lng) - (b.Lng-a.Lng)*(p.Lat-a.Lat)
	if math.Abs(cross) > boundaryEpsilon {
		return false
	}
	if p.Lat < math.Min(a.Lat, b.Lat)-boundaryEpsilon || p.Lat > math.Max(a.Lat, b.Lat)+boundaryEpsilon {
		return false
	}
	if p.Lng < math.Min(a.Lng, b.Lng)-boundaryEpsilon || p.Lng > math.Max(a.Lng, b.Lng)+boundaryEpsilon {
		return false
	}
	return true
}

// polygonAreaOf returns the shoelace area of a site's polygon in squared
// degrees. The absolute scale does not matter; it only orders overlapping
// sites most-specific first.
func polygonAreaOf(site *models.Site) float64 {
	vertices, err := site.Vertices()
	if err != nil || len(vertices) < 3 {
		return math.MaxFloat64
	}
	area := 0.0
	j := len(vertices) - 1
	for i := 0; i < len(vertices); i++ {
		area += (vertices[j].Lng + vertices[i].Lng) * (vertices[j].Lat - vertices[i].Lat)
		j = i
	}
	return math.Abs(area / 2)
}
