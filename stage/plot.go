package stage

import (
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/mlworks/tabtrain/neural"
	"github.com/mlworks/tabtrain/pkg/errors"
)

// historyPalette assigns stable colors to the history series, in the order
// the trainer records them.
var historyPalette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
}

// renderHistory draws every metric series of a training history as a line
// over epochs and saves the figure to path.
func renderHistory(history *neural.History, path string) error {
	if history.Len() == 0 {
		return errors.NewValueError("stage.renderHistory", "history has no epochs")
	}

	p := plot.New()
	p.Title.Text = "Training History"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "value"
	p.Legend.Top = true

	for i, key := range history.Keys {
		series := history.Series[key]
		pts := make(plotter.XYs, len(series))
		for epoch, value := range series {
			pts[epoch].X = float64(epoch)
			pts[epoch].Y = value
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "stage: failed to plot %s", key)
		}
		line.Color = historyPalette[i%len(historyPalette)]
		line.LineStyle.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(key, line)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewArtifactError("save", path, err)
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.NewArtifactError("save", path, err)
	}
	return nil
}
