// Package raster holds multi-band grids in geographic coordinates and the
// bookkeeping operations the pipeline needs on them: compositing, clipping,
// band selection and pixel lookup. Pixel values are float64 with NaN as
// NoData.
package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// MetresPerDegree converts a ground scale to degrees at the equator.
const MetresPerDegree = 111320.0

// NoData is the value of a pixel that holds no observation.
var NoData = math.NaN()

// IsNoData reports whether v is NoData.
func IsNoData(v float64) bool { return math.IsNaN(v) }

// Mask decides whether a location belongs to a region.
type Mask interface {
	Contains(lon, lat float64) bool
}

// Grid is the pixel geometry shared by rasters that can be composited.
// Transform is a GDAL geotransform: origin x, pixel width, row rotation,
// origin y, column rotation, pixel height (negative for north-up).
type Grid struct {
	Width     int
	Height    int
	Transform [6]float64
	EPSG      int
}

// GridFor covers bounds [minLon, minLat, maxLon, maxLat] with north-up
// EPSG:4326 pixels of scale metres.
func GridFor(bounds [4]float64, scale float64) (Grid, error) {
	if scale <= 0 {
		return Grid{}, eris.Errorf("raster: scale must be > 0, got %g", scale)
	}
	if bounds[2] <= bounds[0] || bounds[3] <= bounds[1] {
		return Grid{}, eris.Errorf("raster: degenerate bounds %v", bounds)
	}
	deg := scale / MetresPerDegree
	w := int(math.Ceil((bounds[2] - bounds[0]) / deg))
	h := int(math.Ceil((bounds[3] - bounds[1]) / deg))
	return Grid{
		Width:     w,
		Height:    h,
		Transform: [6]float64{bounds[0], deg, 0, bounds[3], 0, -deg},
		EPSG:      4326,
	}, nil
}

// PixelSize returns the pixel width and height in CRS units.
func (g Grid) PixelSize() (float64, float64) {
	return g.Transform[1], -g.Transform[5]
}

// Bounds returns the grid extent as [minX, minY, maxX, maxY].
func (g Grid) Bounds() [4]float64 {
	w, h := g.PixelSize()
	x0, y0 := g.Transform[0], g.Transform[3]
	return [4]float64{x0, y0 - float64(g.Height)*h, x0 + float64(g.Width)*w, y0}
}

// Center returns the coordinates of the centre of pixel (col, row).
func (g Grid) Center(col, row int) (float64, float64) {
	w, h := g.PixelSize()
	return g.Transform[0] + (float64(col)+0.5)*w, g.Transform[3] - (float64(row)+0.5)*h
}

// PixelOf returns the pixel containing (x, y).
func (g Grid) PixelOf(x, y float64) (col, row int, ok bool) {
	w, h := g.PixelSize()
	fc := (x - g.Transform[0]) / w
	fr := (g.Transform[3] - y) / h
	if fc < 0 || fr < 0 {
		return 0, 0, false
	}
	col, row = int(fc), int(fr)
	if col >= g.Width || row >= g.Height {
		return 0, 0, false
	}
	return col, row, true
}

// Equal reports whether two grids align pixel for pixel.
func (g Grid) Equal(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height && g.Transform == o.Transform && g.EPSG == o.EPSG
}

// Raster is a multi-band grid. Data holds one row-major slice per band.
type Raster struct {
	Grid
	Bands []string
	Data  [][]float64
}

// New allocates a raster on grid with every pixel set to NoData.
func New(grid Grid, bands []string) *Raster {
	r := &Raster{Grid: grid, Bands: append([]string(nil), bands...), Data: make([][]float64, len(bands))}
	n := grid.Width * grid.Height
	for b := range r.Data {
		band := make([]float64, n)
		for i := range band {
			band[i] = NoData
		}
		r.Data[b] = band
	}
	return r
}

// BandIndex returns the index of a band name, or -1.
func (r *Raster) BandIndex(name string) int {
	for i, b := range r.Bands {
		if b == name {
			return i
		}
	}
	return -1
}

// Value returns the value of band at (col, row).
func (r *Raster) Value(band, col, row int) float64 {
	return r.Data[band][row*r.Width+col]
}

// Set assigns the value of band at (col, row).
func (r *Raster) Set(band, col, row int, v float64) {
	r.Data[band][row*r.Width+col] = v
}

// Valid reports whether every band holds data at (col, row).
func (r *Raster) Valid(col, row int) bool {
	i := row*r.Width + col
	for _, band := range r.Data {
		if IsNoData(band[i]) {
			return false
		}
	}
	return true
}

// Pixel returns all band values at (col, row).
func (r *Raster) Pixel(col, row int) []float64 {
	i := row*r.Width + col
	out := make([]float64, len(r.Data))
	for b, band := range r.Data {
		out[b] = band[i]
	}
	return out
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := &Raster{Grid: r.Grid, Bands: append([]string(nil), r.Bands...), Data: make([][]float64, len(r.Data))}
	for b, band := range r.Data {
		out.Data[b] = append([]float64(nil), band...)
	}
	return out
}

// Select returns a raster with exactly the named bands in the given order.
func (r *Raster) Select(bands []string) (*Raster, error) {
	out := &Raster{Grid: r.Grid, Bands: append([]string(nil), bands...), Data: make([][]float64, len(bands))}
	for i, name := range bands {
		idx := r.BandIndex(name)
		if idx < 0 {
			return nil, eris.Errorf("raster: band %q not present (have %v)", name, r.Bands)
		}
		out.Data[i] = append([]float64(nil), r.Data[idx]...)
	}
	return out, nil
}

// Clip returns a copy with every pixel whose centre lies outside m set to
// NoData.
func (r *Raster) Clip(m Mask) *Raster {
	out := r.Clone()
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			x, y := r.Center(col, row)
			if m.Contains(x, y) {
				continue
			}
			i := row*r.Width + col
			for b := range out.Data {
				out.Data[b][i] = NoData
			}
		}
	}
	return out
}

// Coverage returns the fraction of pixels with centres inside m that hold
// data in every band. A mask that contains no pixel centre has coverage 0.
func (r *Raster) Coverage(m Mask) float64 {
	var inside, valid int
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			x, y := r.Center(col, row)
			if !m.Contains(x, y) {
				continue
			}
			inside++
			if r.Valid(col, row) {
				valid++
			}
		}
	}
	if inside == 0 {
		return 0
	}
	return float64(valid) / float64(inside)
}

// Resample returns the raster on another grid using nearest-neighbour
// lookup. Target pixels whose centre falls outside r are NoData.
func (r *Raster) Resample(g Grid) *Raster {
	if g.Equal(r.Grid) {
		return r.Clone()
	}
	out := New(g, r.Bands)
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			x, y := g.Center(col, row)
			sc, sr, ok := r.PixelOf(x, y)
			if !ok {
				continue
			}
			for b := range r.Data {
				out.Data[b][row*g.Width+col] = r.Data[b][sr*r.Width+sc]
			}
		}
	}
	return out
}
