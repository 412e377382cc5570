package stress

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// ErrNoSamples is returned by Plot when there is nothing to draw.
var ErrNoSamples = errors.New("no samples to plot")

const (
	plotWidth  = "100%"
	plotHeight = "520px"
	lineWidth  = 2
)

// Plot writes an HTML line chart of region count, tree height and black
// height over the run.
func Plot(w io.Writer, title string, samples []Sample) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}

	labels := make([]string, len(samples))
	sizes := make([]opts.LineData, len(samples))
	heights := make([]opts.LineData, len(samples))
	blackHeights := make([]opts.LineData, len(samples))

	for idx, sample := range samples {
		labels[idx] = strconv.Itoa(sample.Op)
		sizes[idx] = opts.LineData{Value: sample.Size}
		heights[idx] = opts.LineData{Value: sample.Height}
		blackHeights[idx] = opts.LineData{Value: sample.BlackHeight}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "regions, height and black height per op"}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: plotWidth, Height: plotHeight}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithXAxisOpts(opts.XAxis{Name: "op"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count"}),
	)

	series := charts.WithLineStyleOpts(opts.LineStyle{Width: lineWidth})

	line.SetXAxis(labels).
		AddSeries("regions", sizes, series).
		AddSeries("height", heights, series).
		AddSeries("black height", blackHeights, series)

	err := line.Render(w)
	if err != nil {
		return fmt.Errorf("render stress plot: %w", err)
	}

	return nil
}
