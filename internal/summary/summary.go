// Package summary renders run artifacts: the training loss curve as a PNG
// and the test metrics as a static HTML report. Artifacts land in the run's
// summary directory; both renderers create it idempotently.
package summary

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/metrics"
)

// TrainingCurve accumulates (step, loss) points during training.
type TrainingCurve struct {
	points plotter.XYs
}

// Append records one sampled step.
func (t *TrainingCurve) Append(step int, loss float64) {
	t.points = append(t.points, plotter.XY{X: float64(step), Y: loss})
}

// Len returns the number of recorded points.
func (t *TrainingCurve) Len() int { return len(t.points) }

// WritePNG renders the curve to dir/training_loss.png. gonum/plot writes
// straight to the OS filesystem, so this path does not go through fsutil.
func (t *TrainingCurve) WritePNG(dir string) error {
	if len(t.points) == 0 {
		return fmt.Errorf("training curve has no points")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create summary dir %s: %w", dir, err)
	}

	p := plot.New()
	p.Title.Text = "Training loss"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "loss"

	line, err := plotter.NewLine(t.points)
	if err != nil {
		return fmt.Errorf("build loss line: %w", err)
	}
	p.Add(line)
	p.Add(plotter.NewGrid())

	out := filepath.Join(dir, "training_loss.png")
	if err := p.Save(10*vg.Inch, 5*vg.Inch, out); err != nil {
		return fmt.Errorf("save %s: %w", out, err)
	}
	return nil
}

// WriteMetricsReport renders the collected rows as a bar chart per statistic
// in dir/metrics_report.html.
func WriteMetricsReport(fsys fsutil.FileSystem, dir string, rows []metrics.Row) error {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create summary dir %s: %w", dir, err)
	}

	// Pivot: one series per statistic over the metric names.
	names := make([]string, 0, 4)
	seen := make(map[string]bool)
	byStat := make(map[string]map[string]float64)
	var statOrder []string
	for _, r := range rows {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
		if byStat[r.Statistic] == nil {
			byStat[r.Statistic] = make(map[string]float64)
			statOrder = append(statOrder, r.Statistic)
		}
		byStat[r.Statistic][r.Name] = r.Value
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Test metrics"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names)
	for _, stat := range statOrder {
		data := make([]opts.BarData, len(names))
		for i, name := range names {
			data[i] = opts.BarData{Value: byStat[stat][name]}
		}
		bar.AddSeries(stat, data)
	}

	page := components.NewPage()
	page.AddCharts(bar)

	out := filepath.Join(dir, "metrics_report.html")
	w, err := fsys.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	if err := page.Render(w); err != nil {
		w.Close()
		return fmt.Errorf("render %s: %w", out, err)
	}
	return w.Close()
}
