package report

import (
	"fmt"
	"io"

	"github.com/fogleman/gg"
	"github.com/rotisserie/eris"
)

// ChartTitle heads the importance chart.
const ChartTitle = "Random Forest Variable Importance"

const (
	chartWidth  = 640
	chartHeight = 400
	chartMargin = 50.0
)

// ImportanceChart draws one bar per feature, in the given order, and
// writes the chart as PNG.
func ImportanceChart(w io.Writer, scores []Importance) error {
	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(ChartTitle, chartWidth/2, chartMargin/2, 0.5, 0.5)

	left, right := chartMargin, float64(chartWidth)-chartMargin/2
	top, bottom := chartMargin, float64(chartHeight)-chartMargin

	// Axes.
	dc.SetLineWidth(1)
	dc.DrawLine(left, top, left, bottom)
	dc.DrawLine(left, bottom, right, bottom)
	dc.Stroke()

	peak := 0.0
	for _, s := range scores {
		peak = max(peak, s.Score)
	}
	if peak == 0 {
		peak = 1
	}

	for _, tick := range []float64{0, 0.5, 1} {
		y := bottom - tick*(bottom-top)
		dc.DrawStringAnchored(fmt.Sprintf("%.2g", tick*peak), left-6, y, 1, 0.5)
	}
	dc.DrawStringAnchored("Importance", left, top-12, 0.5, 0.5)
	dc.DrawStringAnchored("Bands", (left+right)/2, float64(chartHeight)-12, 0.5, 0.5)

	if len(scores) > 0 {
		slot := (right - left) / float64(len(scores))
		barW := slot * 0.6
		for i, s := range scores {
			x := left + float64(i)*slot + (slot-barW)/2
			h := s.Score / peak * (bottom - top)
			dc.SetRGB(0.2, 0.45, 0.7)
			dc.DrawRectangle(x, bottom-h, barW, h)
			dc.Fill()
			dc.SetRGB(0, 0, 0)
			dc.DrawStringAnchored(s.Feature, x+barW/2, bottom+12, 0.5, 0.5)
		}
	}

	return eris.Wrap(dc.EncodePNG(w), "report: encode chart")
}
