package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/landcover-cli/internal/region"
)

func TestWriteRegionFeature(t *testing.T) {
	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{-71.9, 41.1}, {-71.1, 41.1}, {-71.1, 42.0}, {-71.9, 42.0}, {-71.9, 41.1},
	}})
	g, err := region.NewGeometry("Rhode Island", poly)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeRegionFeature(&buf, g))

	var got struct {
		Type       string         `json:"type"`
		BBox       []float64      `json:"bbox"`
		Properties map[string]any `json:"properties"`
		Geometry   struct {
			Type string `json:"type"`
		} `json:"geometry"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "Feature", got.Type)
	assert.Equal(t, "Rhode Island", got.Properties["name"])
	assert.Equal(t, []float64{-71.9, 41.1, -71.1, 42.0}, got.BBox)
	assert.Equal(t, "MultiPolygon", got.Geometry.Type)
}
