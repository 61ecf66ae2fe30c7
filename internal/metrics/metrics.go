// Package metrics scores segmentations against ground truth. Per-image IOU,
// AUC, F1, and wall time feed mean / stddev / 5th / 95th-percentile
// aggregates; global IOU and F1 come from pooled pixel tallies. Metrics are
// binary over foreground (any class >= 1) versus background, which covers
// both the 2-class and 3-class configurations.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/josegcpa/unet/internal/raster"
)

// ImageResult is one scored image.
type ImageResult struct {
	ID      string
	IOU     float64
	AUC     float64
	F1      float64
	Seconds float64
}

// Row is one report line, ready for the run registry.
type Row struct {
	Name      string
	Statistic string
	Value     float64
}

// Collector accumulates per-image results and pooled pixel tallies.
type Collector struct {
	perImage []ImageResult
	skipped  int

	tp, fp, fn float64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// AddImage scores one image. Truth is the one-hot ground truth, probs the
// predicted class probabilities, both over the same H×W grid. Images whose
// truth holds fewer than 2 distinct classes are skipped (IOU/AUC/F1 are
// undefined on them); the return value reports whether the image was scored.
func (c *Collector) AddImage(id string, truth, probs raster.Planes, elapsed time.Duration) (bool, error) {
	if truth.H != probs.H || truth.W != probs.W {
		return false, fmt.Errorf("image %s: truth %dx%d, prediction %dx%d", id, truth.H, truth.W, probs.H, probs.W)
	}
	n := truth.H * truth.W

	labels := make([]bool, n)
	scores := make([]float64, n)
	positives := 0
	for i := 0; i < n; i++ {
		pos := false
		for ch := 1; ch < truth.C; ch++ {
			if truth.Ch[ch].Pix[i] > 0 {
				pos = true
				break
			}
		}
		labels[i] = pos
		if pos {
			positives++
		}
		scores[i] = 1 - float64(probs.Ch[0].Pix[i])
	}
	if positives == 0 || positives == n {
		c.skipped++
		return false, nil
	}

	var tp, fp, fn float64
	for i := 0; i < n; i++ {
		pred := scores[i] >= 0.5
		switch {
		case pred && labels[i]:
			tp++
		case pred && !labels[i]:
			fp++
		case !pred && labels[i]:
			fn++
		}
	}
	c.tp += tp
	c.fp += fp
	c.fn += fn

	c.perImage = append(c.perImage, ImageResult{
		ID:      id,
		IOU:     safeRatio(tp, tp+fp+fn),
		F1:      safeRatio(2*tp, 2*tp+fp+fn),
		AUC:     AUC(labels, scores),
		Seconds: elapsed.Seconds(),
	})
	return true, nil
}

// Scored returns how many images contributed to the aggregates.
func (c *Collector) Scored() int { return len(c.perImage) }

// Skipped returns how many images had degenerate truth.
func (c *Collector) Skipped() int { return c.skipped }

// PerImage returns the individual results in scoring order.
func (c *Collector) PerImage() []ImageResult { return c.perImage }

// GlobalIOU is intersection-over-union over all pooled pixels.
func (c *Collector) GlobalIOU() float64 { return safeRatio(c.tp, c.tp+c.fp+c.fn) }

// GlobalF1 is the F1 score over all pooled pixels.
func (c *Collector) GlobalF1() float64 { return safeRatio(2*c.tp, 2*c.tp+c.fp+c.fn) }

// GlobalAUC is the mean of the per-image AUCs. Pooling raw scores across
// images would need every pixel score in memory at once; the per-image mean
// is the reported compromise.
func (c *Collector) GlobalAUC() float64 {
	if len(c.perImage) == 0 {
		return 0
	}
	var sum float64
	for _, r := range c.perImage {
		sum += r.AUC
	}
	return sum / float64(len(c.perImage))
}

// Rows lays out the full report: global values first, then the four
// aggregate statistics for each per-image series.
func (c *Collector) Rows() []Row {
	rows := []Row{
		{"IOU", "global", c.GlobalIOU()},
		{"AUC", "global", c.GlobalAUC()},
		{"F1-score", "global", c.GlobalF1()},
	}
	series := []struct {
		name   string
		values func(ImageResult) float64
	}{
		{"IOU", func(r ImageResult) float64 { return r.IOU }},
		{"AUC", func(r ImageResult) float64 { return r.AUC }},
		{"F1-score", func(r ImageResult) float64 { return r.F1 }},
		{"time", func(r ImageResult) float64 { return r.Seconds }},
	}
	for _, s := range series {
		values := make([]float64, len(c.perImage))
		for i, r := range c.perImage {
			values[i] = s.values(r)
		}
		mean, stddev, q05, q95 := aggregate(values)
		rows = append(rows,
			Row{s.name, "mean", mean},
			Row{s.name, "standard_deviation", stddev},
			Row{s.name, "q05", q05},
			Row{s.name, "q95", q95},
		)
	}
	return rows
}

// Report writes the structured log lines: TEST,<metric>,<statistic>,<value>.
func (c *Collector) Report(w io.Writer) error {
	for _, r := range c.Rows() {
		if _, err := fmt.Fprintf(w, "TEST,%s,%s,%g\n", r.Name, r.Statistic, r.Value); err != nil {
			return err
		}
	}
	return nil
}

// aggregate computes mean, stddev, and the 5th/95th percentiles.
func aggregate(values []float64) (mean, stddev, q05, q95 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	mean = stat.Mean(values, nil)
	if len(values) > 1 {
		stddev = stat.StdDev(values, nil)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	q05 = stat.Quantile(0.05, stat.Empirical, sorted, nil)
	q95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return mean, stddev, q05, q95
}

// AUC computes the area under the ROC curve as the Mann-Whitney rank
// statistic, with midranks for tied scores.
func AUC(labels []bool, scores []float64) float64 {
	n := len(scores)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		// Midrank over the tie group [i, j].
		r := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = r
		}
		i = j + 1
	}

	var rankSum, nPos float64
	for i, pos := range labels {
		if pos {
			rankSum += ranks[i]
			nPos++
		}
	}
	nNeg := float64(n) - nPos
	if nPos == 0 || nNeg == 0 {
		return math.NaN()
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
