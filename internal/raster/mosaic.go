package raster

import (
	"slices"

	"github.com/rotisserie/eris"
)

// Mosaic composites scenes given in priority order (highest first). Each
// output pixel takes every band from the first scene whose bands are all
// valid there; pixels no scene covers stay NoData. All scenes must share a
// grid and band list.
func Mosaic(scenes []*Raster) (*Raster, error) {
	if len(scenes) == 0 {
		return nil, eris.New("raster: mosaic of zero scenes")
	}

	first := scenes[0]
	for i, s := range scenes[1:] {
		if !s.Grid.Equal(first.Grid) {
			return nil, eris.Errorf("raster: scene %d grid does not match scene 0", i+1)
		}
		if !slices.Equal(s.Bands, first.Bands) {
			return nil, eris.Errorf("raster: scene %d bands %v differ from %v", i+1, s.Bands, first.Bands)
		}
	}

	out := New(first.Grid, first.Bands)
	for row := 0; row < first.Height; row++ {
		for col := 0; col < first.Width; col++ {
			for _, s := range scenes {
				if !s.Valid(col, row) {
					continue
				}
				i := row*first.Width + col
				for b := range out.Data {
					out.Data[b][i] = s.Data[b][i]
				}
				break
			}
		}
	}
	return out, nil
}
