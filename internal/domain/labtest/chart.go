package labtest

import (
	"io"
	"regexp"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

var (
	rangePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*[–-]\s*(\d+(?:\.\d+)?)$`)
	boundPattern = regexp.MustCompile(`^([<>])\s*(\d+(?:\.\d+)?)$`)
)

// ReferenceBounds extracts numeric limits from the first line of a normal
// range text such as "3.5–9.5", "<35" or ">90". Either bound may be nil.
func ReferenceBounds(text string) (lo, hi *float64) {
	line := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if m := rangePattern.FindStringSubmatch(line); m != nil {
		a, okA := ParseNumber(m[1])
		b, okB := ParseNumber(m[2])
		if okA && okB {
			return &a, &b
		}
		return nil, nil
	}
	if m := boundPattern.FindStringSubmatch(line); m != nil {
		v, ok := ParseNumber(m[2])
		if !ok {
			return nil, nil
		}
		if m[1] == "<" {
			return nil, &v
		}
		return &v, nil
	}
	return nil, nil
}

// RenderTrendChart writes an HTML line chart of points for def. The series
// carries max/min marks and an average line, and reference limits when the
// normal range is numeric.
func RenderTrendChart(w io.Writer, def MetricDefinition, points []Point) error {
	xAxis := make([]string, 0, len(points))
	yData := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		xAxis = append(xAxis, p.Date.Format(DateLayout))
		yData = append(yData, opts.LineData{Value: p.Value})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    def.ShortName,
			Subtitle: def.DisplayName,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    opts.Bool(true),
			Trigger: "axis",
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(false),
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:  def.Unit,
			Scale: opts.Bool(true),
		}),
	)

	seriesOpts := []charts.SeriesOpts{
		charts.WithLineChartOpts(opts.LineChart{
			Smooth:     opts.Bool(true),
			ShowSymbol: opts.Bool(true),
		}),
		charts.WithMarkPointNameTypeItemOpts(
			opts.MarkPointNameTypeItem{Name: "Max", Type: "max"},
			opts.MarkPointNameTypeItem{Name: "Min", Type: "min"},
		),
	}

	markLines := []interface{}{
		opts.MarkLineNameTypeItem{Name: "Average", Type: "average"},
	}
	lo, hi := ReferenceBounds(def.NormalRangeText)
	if lo != nil {
		markLines = append(markLines, opts.MarkLineNameYAxisItem{Name: "Ref Min", YAxis: *lo})
	}
	if hi != nil {
		markLines = append(markLines, opts.MarkLineNameYAxisItem{Name: "Ref Max", YAxis: *hi})
	}
	seriesOpts = append(seriesOpts, func(s *charts.SingleSeries) {
		s.MarkLines = &opts.MarkLines{
			Data: markLines,
			MarkLineStyle: opts.MarkLineStyle{
				Symbol: []string{"none", "none"},
				LineStyle: &opts.LineStyle{
					Color: "rgba(128, 128, 128, 0.6)",
					Type:  "dashed",
					Width: 1.5,
				},
			},
		}
	})

	line.SetXAxis(xAxis).
		AddSeries(def.ShortName, yData).
		SetSeriesOptions(seriesOpts...)

	return line.Render(w)
}
