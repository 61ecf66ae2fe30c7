package summary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/metrics"
)

func TestTrainingCurveWritePNG(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "summaries")

	var curve TrainingCurve
	for step := 1; step <= 50; step++ {
		curve.Append(step, 1.0/float64(step))
	}
	require.Equal(t, 50, curve.Len())

	require.NoError(t, curve.WritePNG(dir))

	info, err := os.Stat(filepath.Join(dir, "training_loss.png"))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestTrainingCurveEmptyFails(t *testing.T) {
	t.Parallel()
	var curve TrainingCurve
	assert.Error(t, curve.WritePNG(t.TempDir()))
}

func TestWriteMetricsReport(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()

	rows := []metrics.Row{
		{Name: "IOU", Statistic: "global", Value: 0.8},
		{Name: "F1-score", Statistic: "global", Value: 0.88},
		{Name: "IOU", Statistic: "mean", Value: 0.75},
		{Name: "F1-score", Statistic: "mean", Value: 0.85},
	}
	require.NoError(t, WriteMetricsReport(fs, "out", rows))

	data, err := fs.ReadFile("out/metrics_report.html")
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "Test metrics")
	assert.Contains(t, html, "IOU")
	assert.Contains(t, html, "F1-score")
	assert.Contains(t, html, "0.88")
}

func TestWriteMetricsReportEmptyRows(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteMetricsReport(fs, "out", nil))
	assert.True(t, fs.Exists("out/metrics_report.html"))
}
