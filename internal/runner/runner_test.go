package runner

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josegcpa/unet/internal/augment"
	"github.com/josegcpa/unet/internal/corpus"
	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/imageio"
	"github.com/josegcpa/unet/internal/model"
	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/stream"
	"github.com/josegcpa/unet/internal/testutil"
	"github.com/josegcpa/unet/internal/tilegrid"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "train", want: ModeTrain},
		{in: "TEST", want: ModeTest},
		{in: " predict ", want: ModePredict},
		{in: "large-predict", want: ModeLargePredict},
		{in: "large_predict", want: ModeLargePredict},
		{in: "tumble", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMode(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestModeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "train", ModeTrain.String())
	assert.Equal(t, "large-predict", ModeLargePredict.String())
}

// halfLoader fabricates square samples whose right half is foreground, both
// in the image (channel value 1) and in the mask.
type halfLoader struct {
	size int
}

func (l *halfLoader) Load(e corpus.Entry) (stream.Sample, error) {
	n := l.size
	img := raster.NewPlanes(n, n, 1)
	s := stream.Sample{ID: e.ID, Image: img}
	if e.Mask != "" {
		s.Mask = raster.NewPlanes(n, n, 2)
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			i := r*n + c
			if c >= n/2 {
				img.Ch[0].Pix[i] = 1
				if e.Mask != "" {
					s.Mask.Ch[1].Pix[i] = 1
				}
			} else if e.Mask != "" {
				s.Mask.Ch[0].Pix[i] = 1
			}
		}
	}
	return s, nil
}

func maskedCorpus(n int) *corpus.Corpus {
	entries := make([]corpus.Entry, n)
	for i := range entries {
		id := fmt.Sprintf("img%02d", i)
		entries[i] = corpus.Entry{ID: id, Image: id + ".png", Mask: id + "_mask.png"}
	}
	return &corpus.Corpus{Entries: entries, Desc: "synthetic"}
}

// baseConfig returns a valid train configuration over an in-memory world.
func baseConfig(fs fsutil.FileSystem) *Config {
	return &Config{
		Mode:       ModeTrain,
		FS:         fs,
		Corpus:     maskedCorpus(4),
		Loader:     &halfLoader{size: 8},
		Backend:    model.NewSoftmax(1, 2, 1.0, tilegrid.PaddingSame),
		Channels:   1,
		Classes:    2,
		Pad:        tilegrid.PaddingSame,
		BatchSize:  2,
		Steps:      5,
		Seed:       42,
		Checkpoint: "ckpt.json",
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(fs *fsutil.MemoryFileSystem, c *Config)
		wantErr string
	}{
		{name: "valid train", mutate: func(*fsutil.MemoryFileSystem, *Config) {}},
		{
			name:    "empty corpus",
			mutate:  func(_ *fsutil.MemoryFileSystem, c *Config) { c.Corpus = &corpus.Corpus{} },
			wantErr: "empty corpus",
		},
		{
			name:    "no backend",
			mutate:  func(_ *fsutil.MemoryFileSystem, c *Config) { c.Backend = nil },
			wantErr: "backend",
		},
		{
			name:    "bad class count",
			mutate:  func(_ *fsutil.MemoryFileSystem, c *Config) { c.Classes = 5 },
			wantErr: "classes",
		},
		{
			name:    "bad channel count",
			mutate:  func(_ *fsutil.MemoryFileSystem, c *Config) { c.Channels = 0 },
			wantErr: "channels",
		},
		{
			name:    "ensemble outside large-predict",
			mutate:  func(_ *fsutil.MemoryFileSystem, c *Config) { c.Ensemble = true },
			wantErr: "ensemble",
		},
		{
			name:    "train without budget",
			mutate:  func(_ *fsutil.MemoryFileSystem, c *Config) { c.Steps = 0 },
			wantErr: "steps",
		},
		{
			name:    "train without checkpoint path",
			mutate:  func(_ *fsutil.MemoryFileSystem, c *Config) { c.Checkpoint = "" },
			wantErr: "checkpoint",
		},
		{
			name: "test without checkpoint file",
			mutate: func(_ *fsutil.MemoryFileSystem, c *Config) {
				c.Mode = ModeTest
				c.Checkpoint = "absent.json"
			},
			wantErr: "checkpoint",
		},
		{
			name: "predict without output dir",
			mutate: func(fs *fsutil.MemoryFileSystem, c *Config) {
				c.Mode = ModePredict
				fs.WriteFile("ckpt.json", []byte("{}"), 0644)
			},
			wantErr: "output-dir",
		},
		{
			name: "ensemble with non-square tiles",
			mutate: func(fs *fsutil.MemoryFileSystem, c *Config) {
				c.Mode = ModeLargePredict
				c.Ensemble = true
				c.OutputDir = "out"
				c.TileH, c.TileW = 4, 8
				fs.WriteFile("ckpt.json", []byte("{}"), 0644)
			},
			wantErr: "square",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fs := fsutil.NewMemoryFileSystem()
			c := baseConfig(fs)
			tc.mutate(fs, c)
			err := c.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	t.Parallel()
	c := baseConfig(fsutil.NewMemoryFileSystem())
	require.NoError(t, c.Validate())

	assert.Equal(t, 100, c.LogEveryN)
	assert.Equal(t, 10, c.SummaryEveryN)
	assert.Equal(t, 500, c.CheckpointEveryN)
	assert.Equal(t, 1, c.Workers)
	assert.NotNil(t, c.Clock)
	assert.NotNil(t, c.ReportTo)
}

func TestTrainStepsEpochsOverride(t *testing.T) {
	t.Parallel()
	c := baseConfig(fsutil.NewMemoryFileSystem())
	assert.Equal(t, 5, c.trainSteps())

	c.Epochs = 10 // 10 epochs of 4 entries at batch 2
	assert.Equal(t, 20, c.trainSteps())
}

func TestRunTrainWritesCheckpoint(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	c := baseConfig(fs)
	c.Steps = 10

	require.NoError(t, Run(context.Background(), c))
	assert.True(t, fs.Exists("ckpt.json"))
}

func TestRunTrainResumesFromCheckpoint(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	c := baseConfig(fs)
	require.NoError(t, Run(context.Background(), c))

	// Second run with a fresh backend resumes rather than restarting; a
	// shape-incompatible checkpoint would fail the resume load.
	c2 := baseConfig(fs)
	require.NoError(t, Run(context.Background(), c2))
}

// quietProfile turns every transform off so the augmentation stage passes
// samples through (up to JPEG quality-100 noise).
func quietProfile() *augment.Profile {
	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	b := func(v bool) *bool { return &v }
	return &augment.Profile{
		BrightnessMaxDelta: f(0),
		SaturationLo:       f(1),
		SaturationHi:       f(1),
		HueMaxDelta:        f(0),
		ContrastLo:         f(1),
		ContrastHi:         f(1),
		SaltProb:           f(0),
		PepperProb:         f(0),
		NoiseStddev:        f(0),
		BlurProb:           f(0),
		JPEGQualityLo:      i(100),
		JPEGQualityHi:      i(100),
		Rot90:              b(false),
		FlipProb:           f(0),
		ElasticProb:        f(0),
	}
}

func TestRunTrainWithAugmentationPool(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	c := baseConfig(fs)
	c.Augmenter = augment.New(quietProfile(), rand.New(rand.NewSource(7)))
	c.Workers = 4

	require.NoError(t, Run(context.Background(), c))
	assert.True(t, fs.Exists("ckpt.json"))
}

func TestTrainStreamStopShutsDownPool(t *testing.T) {
	t.Parallel()
	c := baseConfig(fsutil.NewMemoryFileSystem())
	require.NoError(t, c.Validate())
	c.Augmenter = augment.New(quietProfile(), rand.New(rand.NewSource(7)))
	c.Workers = 4

	batches, stop, err := c.trainStream()
	require.NoError(t, err)
	require.NotNil(t, stop)

	_, err = batches.NextBatch(context.Background())
	require.NoError(t, err)

	// stop waits for the feeder and workers to exit; it must return promptly
	// and tolerate a second call.
	stop()
	stop()
}

func TestRunTestEmitsReport(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()

	// Train first so the checkpoint gate passes and the model has signal.
	trainCfg := baseConfig(fs)
	trainCfg.Steps = 100
	require.NoError(t, Run(context.Background(), trainCfg))

	var report bytes.Buffer
	testCfg := baseConfig(fs)
	testCfg.Mode = ModeTest
	testCfg.Backend = model.NewSoftmax(1, 2, 1.0, tilegrid.PaddingSame)
	testCfg.ReportTo = &report

	require.NoError(t, Run(context.Background(), testCfg))

	lines := strings.Split(strings.TrimRight(report.String(), "\n"), "\n")
	require.Len(t, lines, 19)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "TEST,"), "line %q", line)
	}
	// The task is linearly separable, so a trained model scores perfectly.
	assert.Equal(t, "TEST,IOU,global,1", lines[0])
}

func TestRunTestRejectsSmallImagesUnderValidPadding(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("ckpt.json", []byte("{}"), 0644))

	// 8x8 truth cannot survive the 92-pixel margin crop; the run must fail
	// with a configuration-shaped error rather than a garbled crop failure.
	c := baseConfig(fs)
	c.Mode = ModeTest
	c.Backend = thresholdBackend{}
	c.Pad = tilegrid.PaddingValid

	err := Run(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALID padding")
}

func TestRunPredictWritesTIFFs(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()

	trainCfg := baseConfig(fs)
	trainCfg.Steps = 100
	require.NoError(t, Run(context.Background(), trainCfg))

	predCfg := baseConfig(fs)
	predCfg.Mode = ModePredict
	predCfg.Backend = model.NewSoftmax(1, 2, 1.0, tilegrid.PaddingSame)
	predCfg.OutputDir = "out"
	predCfg.Corpus = &corpus.Corpus{
		Entries: []corpus.Entry{{ID: "solo", Image: "solo.png"}},
		Desc:    "synthetic",
	}

	require.NoError(t, Run(context.Background(), predCfg))
	assert.True(t, fs.Exists("out/solo.tif"))
}

// thresholdBackend predicts foreground wherever channel 0 exceeds 0.5. It is
// equivariant under flips and rotations, so direct and ensemble prediction
// must agree exactly.
type thresholdBackend struct{}

func (thresholdBackend) TrainStep(context.Context, stream.Batch) (float64, error) {
	return 0, fmt.Errorf("inference-only backend")
}

func (thresholdBackend) Infer(_ context.Context, images []raster.Planes) ([]raster.Planes, error) {
	out := make([]raster.Planes, len(images))
	for i, img := range images {
		pred := raster.NewPlanes(img.H, img.W, 2)
		for j, v := range img.Ch[0].Pix {
			if v > 0.5 {
				pred.Ch[1].Pix[j] = 1
			} else {
				pred.Ch[0].Pix[j] = 1
			}
		}
		out[i] = pred
	}
	return out, nil
}

func (thresholdBackend) Save(fsutil.FileSystem, string) error { return nil }
func (thresholdBackend) Load(fsutil.FileSystem, string) error { return nil }

func largePredictConfig(fs fsutil.FileSystem) *Config {
	return &Config{
		Mode:       ModeLargePredict,
		FS:         fs,
		Backend:    thresholdBackend{},
		Channels:   1,
		Classes:    2,
		TileH:      4,
		TileW:      4,
		Pad:        tilegrid.PaddingSame,
		BatchSize:  3,
		Checkpoint: "ckpt.json",
		OutputDir:  "out",
	}
}

// writeHalfImage writes an 8x8 grayscale PNG whose right half is white.
func writeHalfImage(t *testing.T, fs fsutil.FileSystem, path string) {
	t.Helper()
	img := raster.NewPlanes(8, 8, 1)
	for r := 0; r < 8; r++ {
		for c := 4; c < 8; c++ {
			img.Ch[0].Pix[r*8+c] = 1
		}
	}
	testutil.WriteImagePNG(t, fs, path, img)
}

func TestRunLargePredictReassembles(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	writeHalfImage(t, fs, "big.png")
	require.NoError(t, fs.WriteFile("ckpt.json", []byte("{}"), 0644))

	c := largePredictConfig(fs)
	c.Corpus = &corpus.Corpus{Entries: []corpus.Entry{{ID: "big", Image: "big.png"}}, Desc: "synthetic"}

	require.NoError(t, Run(context.Background(), c))

	labels, err := imageio.LoadLabels(fs, "out/big.png", 2)
	require.NoError(t, err)
	require.Equal(t, 8, labels.H)
	require.Equal(t, 8, labels.W)
	for r := 0; r < 8; r++ {
		for col := 0; col < 8; col++ {
			want := float32(0)
			if col >= 4 {
				want = 1
			}
			assert.Equal(t, want, labels.Pix[r*8+col], "pixel (%d,%d)", r, col)
		}
	}
}

func TestRunLargePredictEnsembleMatchesDirect(t *testing.T) {
	t.Parallel()

	run := func(ens bool) raster.Plane {
		fs := fsutil.NewMemoryFileSystem()
		writeHalfImage(t, fs, "big.png")
		require.NoError(t, fs.WriteFile("ckpt.json", []byte("{}"), 0644))

		c := largePredictConfig(fs)
		c.Ensemble = ens
		c.Corpus = &corpus.Corpus{Entries: []corpus.Entry{{ID: "big", Image: "big.png"}}, Desc: "synthetic"}
		require.NoError(t, Run(context.Background(), c))

		labels, err := imageio.LoadLabels(fs, "out/big.png", 2)
		require.NoError(t, err)
		return labels
	}

	direct, tumbled := run(false), run(true)
	assert.Equal(t, direct.Pix, tumbled.Pix)
}
