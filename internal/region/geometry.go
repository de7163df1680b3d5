// Package region resolves a named administrative boundary to a geometry.
package region

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Geometry is a resolved boundary in EPSG:4326. It is immutable once built.
type Geometry struct {
	name  string
	mp    *geom.MultiPolygon
	shape orb.MultiPolygon
	bound orb.Bound
}

// NewGeometry wraps a go-geom polygon or multipolygon.
func NewGeometry(name string, g geom.T) (*Geometry, error) {
	var mp *geom.MultiPolygon
	switch v := g.(type) {
	case *geom.MultiPolygon:
		mp = v
	case *geom.Polygon:
		mp = geom.NewMultiPolygon(geom.XY).SetSRID(v.SRID())
		if err := mp.Push(v); err != nil {
			return nil, eris.Wrap(err, "region: promote polygon")
		}
	default:
		return nil, eris.Errorf("region: %s boundary is %T, want a polygon", name, g)
	}
	if mp.NumPolygons() == 0 {
		return nil, eris.Errorf("region: %s boundary is empty", name)
	}

	shape := toOrb(mp)
	return &Geometry{name: name, mp: mp, shape: shape, bound: shape.Bound()}, nil
}

// Name returns the value the boundary was resolved by.
func (g *Geometry) Name() string { return g.name }

// Bounds returns [minLon, minLat, maxLon, maxLat].
func (g *Geometry) Bounds() [4]float64 {
	return [4]float64{g.bound.Min.X(), g.bound.Min.Y(), g.bound.Max.X(), g.bound.Max.Y()}
}

// Contains reports whether (lon, lat) lies inside the boundary.
func (g *Geometry) Contains(lon, lat float64) bool {
	p := orb.Point{lon, lat}
	if !g.bound.Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(g.shape, p)
}

// MultiPolygon returns the underlying go-geom geometry.
func (g *Geometry) MultiPolygon() *geom.MultiPolygon { return g.mp }

// Orb returns the boundary as an orb multipolygon.
func (g *Geometry) Orb() orb.MultiPolygon { return g.shape }

// Area returns the planar area in square degrees.
func (g *Geometry) Area() float64 { return planar.Area(g.shape) }

// GeoJSON encodes the boundary as a GeoJSON geometry.
func (g *Geometry) GeoJSON() (json.RawMessage, error) {
	data, err := geojson.Marshal(g.mp)
	if err != nil {
		return nil, eris.Wrap(err, "region: encode geojson")
	}
	return data, nil
}

func toOrb(mp *geom.MultiPolygon) orb.MultiPolygon {
	out := make(orb.MultiPolygon, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		poly := make(orb.Polygon, 0, p.NumLinearRings())
		for j := 0; j < p.NumLinearRings(); j++ {
			coords := p.LinearRing(j).Coords()
			ring := make(orb.Ring, len(coords))
			for k, c := range coords {
				ring[k] = orb.Point{c.X(), c.Y()}
			}
			poly = append(poly, ring)
		}
		out = append(out, poly)
	}
	return out
}

// fromOrb converts an orb polygon or multipolygon to go-geom.
func fromOrb(g orb.Geometry) (*geom.MultiPolygon, error) {
	var polys orb.MultiPolygon
	switch v := g.(type) {
	case orb.Polygon:
		polys = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		polys = v
	default:
		return nil, eris.Errorf("region: unsupported geometry %T", g)
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, poly := range polys {
		p := geom.NewPolygon(geom.XY)
		for _, ring := range poly {
			flat := make([]float64, 0, 2*len(ring))
			for _, pt := range ring {
				flat = append(flat, pt.X(), pt.Y())
			}
			if err := p.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
				return nil, eris.Wrap(err, "region: build ring")
			}
		}
		if err := mp.Push(p); err != nil {
			return nil, eris.Wrap(err, "region: build polygon")
		}
	}
	return mp, nil
}
