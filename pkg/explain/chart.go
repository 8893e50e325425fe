package explain

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Chart geometry. One horizontal row per factor, bars growing from a
// center axis: positive contributions to the right, negative to the
// left, scaled against the largest magnitude.
const (
	chartWidth  = 640
	rowHeight   = 28
	rowGap      = 12
	chartMargin = 16
)

var (
	chartBackground = color.RGBA{255, 255, 255, 255}
	chartAxis       = color.RGBA{120, 120, 120, 255}
	chartPositive   = color.RGBA{46, 160, 67, 255}
	chartNegative   = color.RGBA{197, 48, 48, 255}
)

// RenderChart draws the top factors of an explanation as a PNG bar
// chart. An explanation without factors has nothing to draw and is
// refused.
func RenderChart(e Explanation) ([]byte, error) {
	if len(e.TopFactors) == 0 {
		return nil, fault.Invalidf("empty-chart", "explanation has no factors to draw")
	}

	maxAbs := 0.0
	for _, f := range e.TopFactors {
		if a := abs(f.Contribution); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}

	height := 2*chartMargin + len(e.TopFactors)*rowHeight + (len(e.TopFactors)-1)*rowGap
	img := image.NewRGBA(image.Rect(0, 0, chartWidth, height))

	for y := 0; y < height; y++ {
		for x := 0; x < chartWidth; x++ {
			img.SetRGBA(x, y, chartBackground)
		}
	}

	center := chartWidth / 2
	halfSpan := float64(center - chartMargin)
	for y := 0; y < height; y++ {
		img.SetRGBA(center, y, chartAxis)
	}

	for i, f := range e.TopFactors {
		top := chartMargin + i*(rowHeight+rowGap)
		span := int(abs(f.Contribution) / maxAbs * halfSpan)
		if span < 1 {
			span = 1
		}

		fill := chartPositive
		x0, x1 := center+1, center+span
		if f.Contribution < 0 {
			fill = chartNegative
			x0, x1 = center-span, center-1
		}
		for y := top; y < top+rowHeight; y++ {
			for x := x0; x <= x1; x++ {
				img.SetRGBA(x, y, fill)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "encoding chart")
	}
	return buf.Bytes(), nil
}
