package render

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlotSink writes a static image of the labelled points, one colour per
// cluster. With Elbow set it draws the distortion curve instead.
type PlotSink struct {
	Out    io.Writer
	Format string // png, svg or pdf; defaults to png
	Width  vg.Length
	Height vg.Length
	Elbow  bool
}

// NewPNGSink returns a 8x8 inch PNG scatter sink.
func NewPNGSink(w io.Writer) *PlotSink {
	return &PlotSink{Out: w, Format: "png", Width: 8 * vg.Inch, Height: 8 * vg.Inch}
}

func (s *PlotSink) Render(f Frame) error {
	var (
		p   *plot.Plot
		err error
	)
	if s.Elbow {
		p, err = elbowPlot(f)
	} else if err = f.validate(); err == nil {
		p, err = scatterPlot(f)
	}
	if err != nil {
		return err
	}

	format := s.Format
	if format == "" {
		format = "png"
	}
	width, height := s.Width, s.Height
	if width <= 0 {
		width = 8 * vg.Inch
	}
	if height <= 0 {
		height = width
	}
	wt, err := p.WriterTo(width, height, format)
	if err != nil {
		return fmt.Errorf("preparing %s canvas: %w", format, err)
	}
	if _, err := wt.WriteTo(s.Out); err != nil {
		return fmt.Errorf("writing %s: %w", format, err)
	}
	return nil
}

func scatterPlot(f Frame) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = f.title()
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	labels, members := f.group()
	colors := palette(len(labels))
	for i, label := range labels {
		idx := members[label]
		pts := make(plotter.XYs, len(idx))
		for j, row := range idx {
			pt := f.Points.Point(row)
			pts[j] = plotter.XY{X: pt[0], Y: pt[1]}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = colors[i]
		sc.GlyphStyle.Radius = vg.Points(2)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("cluster %d", label), sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func elbowPlot(f Frame) (*plot.Plot, error) {
	if len(f.Curve) == 0 {
		return nil, fmt.Errorf("render: frame has no distortion curve")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Distortion elbow (k=%d)", f.OptimalK)
	p.X.Label.Text = "k"
	p.Y.Label.Text = "Distortion"

	pts := make(plotter.XYs, len(f.Curve))
	var knee plotter.XYs
	for i, pt := range f.Curve {
		pts[i] = plotter.XY{X: float64(pt.K), Y: pt.Score}
		if pt.K == f.OptimalK {
			knee = append(knee, pts[i])
		}
	}

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Width = vg.Points(1)
	p.Add(line, points)
	p.Legend.Add("distortion", line)

	if len(knee) > 0 {
		marker, err := plotter.NewScatter(knee)
		if err != nil {
			return nil, err
		}
		marker.GlyphStyle.Shape = draw.CrossGlyph{}
		marker.GlyphStyle.Radius = vg.Points(6)
		marker.GlyphStyle.Color = palette(1)[0]
		p.Add(marker)
		p.Legend.Add(fmt.Sprintf("knee k=%d", f.OptimalK), marker)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}
