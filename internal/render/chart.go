package render

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/coordcluster/internal/sweep"
)

// DefaultAssetsHost serves the echarts scripts referenced by HTML output.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// ChartSink writes an interactive HTML page with the cluster scatter and
// the elbow curve.
type ChartSink struct {
	Out        io.Writer
	AssetsHost string
}

func (s *ChartSink) Render(f Frame) error {
	if err := f.validate(); err != nil {
		return err
	}
	host := s.assetsHost()

	page := components.NewPage()
	page.SetPageTitle(f.title())
	page.SetAssetsHost(host)
	page.AddCharts(ClusterChart(f, host))
	if len(f.Curve) > 0 {
		page.AddCharts(ElbowChart(f.Curve, f.OptimalK, host))
	}
	if err := page.Render(s.Out); err != nil {
		return fmt.Errorf("rendering chart page: %w", err)
	}
	return nil
}

func (s *ChartSink) assetsHost() string {
	if s.AssetsHost != "" {
		return s.AssetsHost
	}
	return DefaultAssetsHost
}

// ClusterChart builds a scatter with one series per cluster label.
func ClusterChart(f Frame, assetsHost string) *charts.Scatter {
	lo, hi := f.Points.Bounds()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: f.title(), Width: "900px", Height: "720px", AssetsHost: assetsHost}),
		charts.WithTitleOpts(opts.Title{Title: f.title(), Subtitle: fmt.Sprintf("points=%d k=%d", f.Points.Len(), f.OptimalK)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Min: lo[0], Max: hi[0], Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: lo[1], Max: hi[1], Name: "Latitude", NameLocation: "middle", NameGap: 30}),
	)

	labels, members := f.group()
	colors := palette(len(labels))
	for i, label := range labels {
		idx := members[label]
		data := make([]opts.ScatterData, 0, len(idx))
		for _, row := range idx {
			pt := f.Points.Point(row)
			data = append(data, opts.ScatterData{Value: []interface{}{pt[0], pt[1]}})
		}
		scatter.AddSeries(fmt.Sprintf("cluster %d", label), data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colors[i])}),
		)
	}
	return scatter
}

// ElbowChart builds the distortion-vs-k line with the chosen k marked.
func ElbowChart(curve sweep.Curve, optimalK int, assetsHost string) *charts.Line {
	ks := make([]int, len(curve))
	data := make([]opts.LineData, len(curve))
	for i, pt := range curve {
		ks[i] = pt.K
		data[i] = opts.LineData{Value: pt.Score}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Distortion elbow", Width: "900px", Height: "480px", AssetsHost: assetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Distortion elbow", Subtitle: fmt.Sprintf("candidates=%d k=%d", len(curve), optimalK)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "k", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Distortion", NameLocation: "middle", NameGap: 50}),
	)

	seriesOpts := []charts.SeriesOpts{
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}),
	}
	if score, ok := curve.Score(optimalK); ok {
		seriesOpts = append(seriesOpts, charts.WithMarkPointNameCoordItemOpts(opts.MarkPointNameCoordItem{
			Name:       "knee",
			Coordinate: []interface{}{fmt.Sprint(optimalK), score},
			Value:      fmt.Sprintf("k=%d", optimalK),
		}))
	}
	line.SetXAxis(ks).AddSeries("distortion", data, seriesOpts...)
	return line
}
