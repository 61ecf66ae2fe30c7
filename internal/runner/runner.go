package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/josegcpa/unet/internal/ensemble"
	"github.com/josegcpa/unet/internal/imageio"
	"github.com/josegcpa/unet/internal/metrics"
	"github.com/josegcpa/unet/internal/model"
	"github.com/josegcpa/unet/internal/monitoring"
	"github.com/josegcpa/unet/internal/mosaic"
	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/rundb"
	"github.com/josegcpa/unet/internal/stream"
	"github.com/josegcpa/unet/internal/summary"
	"github.com/josegcpa/unet/internal/tilegrid"
)

// Run validates the configuration, registers the run, and executes the
// configured mode. Context cancellation stops the loops between steps.
func Run(ctx context.Context, c *Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	runID, err := c.startRun()
	if err != nil {
		return err
	}
	monitoring.Opsf("run %s: mode=%s ensemble=%v corpus=%s (%d entries)",
		runID, c.Mode, c.Ensemble, c.Corpus.Desc, c.Corpus.Len())

	switch c.Mode {
	case ModeTrain:
		err = c.train(ctx, runID)
	case ModeTest:
		err = c.test(ctx, runID)
	case ModePredict:
		err = c.predict(ctx)
	case ModeLargePredict:
		err = c.largePredict(ctx)
	}

	c.endRun(runID, err)
	return err
}

// startRun records the run in the registry if one is configured.
func (c *Config) startRun() (string, error) {
	if c.Registry == nil {
		return "unregistered", nil
	}
	return c.Registry.InsertRun(&rundb.Run{
		Mode:       c.Mode.String(),
		Ensemble:   c.Ensemble,
		CorpusDesc: c.Corpus.Desc,
		Checkpoint: c.Checkpoint,
		Steps:      c.trainSteps(),
	})
}

func (c *Config) endRun(runID string, runErr error) {
	if c.Registry == nil {
		return
	}
	status, notes := rundb.StatusFinished, ""
	if runErr != nil {
		status, notes = rundb.StatusFailed, runErr.Error()
	}
	if err := c.Registry.FinishRun(runID, status, notes); err != nil {
		monitoring.Opsf("run %s: registry update failed: %v", runID, err)
	}
}

// train runs the bounded step loop: pull batch, step the backend, honor the
// log / summary / checkpoint cadences, and save at the end.
func (c *Config) train(ctx context.Context, runID string) error {
	steps := c.trainSteps()
	if steps <= 0 {
		return fmt.Errorf("resolved step budget is %d", steps)
	}

	if model.CheckpointExists(c.FS, c.Checkpoint) {
		if err := c.Backend.Load(c.FS, c.Checkpoint); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		monitoring.Opsf("train: resumed from %s", c.Checkpoint)
	}
	if dir := filepath.Dir(c.Checkpoint); dir != "." {
		if err := c.FS.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create checkpoint dir %s: %w", dir, err)
		}
	}

	batches, stop, err := c.trainStream()
	if err != nil {
		return err
	}
	defer stop()

	var curve summary.TrainingCurve
	var lossRows []rundb.Metric
	lastLog := c.Clock.Now()
	lastLogStep := 0

	for step := 1; step <= steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := batches.NextBatch(ctx)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		loss, err := c.Backend.TrainStep(ctx, batch)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}

		if step == 1 || step%c.LogEveryN == 0 {
			elapsed := c.Clock.Since(lastLog).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(step-lastLogStep) / elapsed
			}
			monitoring.Opsf("train: step %d/%d loss=%.6f %.2f steps/s", step, steps, loss, rate)
			lastLog = c.Clock.Now()
			lastLogStep = step
		}
		if step == 1 || step%c.SummaryEveryN == 0 {
			curve.Append(step, loss)
			lossRows = append(lossRows, rundb.Metric{RunID: runID, Name: "loss", Statistic: "step", Value: loss, Step: step})
		}
		if step%c.CheckpointEveryN == 0 {
			if err := c.Backend.Save(c.FS, c.Checkpoint); err != nil {
				return fmt.Errorf("step %d checkpoint: %w", step, err)
			}
			monitoring.Diagf("train: checkpoint at step %d", step)
		}
	}

	if err := c.Backend.Save(c.FS, c.Checkpoint); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}
	monitoring.Opsf("train: finished %d steps, checkpoint %s", steps, c.Checkpoint)

	if c.SummaryDir != "" && curve.Len() > 0 {
		if err := curve.WritePNG(c.SummaryDir); err != nil {
			return err
		}
	}
	if c.Registry != nil {
		if err := c.Registry.AddMetrics(lossRows); err != nil {
			return err
		}
	}
	return nil
}

// trainStream assembles the infinite shuffled augmented batch pipeline. The
// returned stop func shuts down the augmentation pool's goroutines; the step
// loop must call it when it finishes.
func (c *Config) trainStream() (stream.BatchSource, func(), error) {
	rng := rand.New(rand.NewSource(c.Seed))
	src, err := stream.NewInfinite(c.Corpus, c.Loader, rand.New(rand.NewSource(rng.Int63())))
	if err != nil {
		return nil, nil, err
	}

	var stage stream.Source = src
	stage = stream.NewShuffler(stage, c.ShuffleBuffer, rand.New(rand.NewSource(rng.Int63())))
	stop := func() {}
	if c.Augmenter != nil {
		aug := c.Augmenter
		stage = stream.NewPool(stage, func() stream.Mapper { return aug.Fork().Mapper() }, c.Workers)
		if p, ok := stage.(*stream.Pool); ok {
			stop = p.Close
		}
	}

	var batches stream.BatchSource = stream.NewBatcher(stage, c.BatchSize, true)
	batches = stream.NewBatchShuffler(batches, c.BatchShuffle, rand.New(rand.NewSource(rng.Int63())))
	return batches, stop, nil
}

// test runs one scoring pass and emits the metrics report.
func (c *Config) test(ctx context.Context, runID string) error {
	if err := c.Backend.Load(c.FS, c.Checkpoint); err != nil {
		return err
	}

	batches := stream.NewBatcher(stream.NewOnePass(c.Corpus, c.Loader), c.BatchSize, false)
	collector := metrics.NewCollector()

	for {
		batch, err := batches.NextBatch(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrExhausted) {
				break
			}
			return err
		}

		images := make([]raster.Planes, len(batch))
		for i, s := range batch {
			images[i] = s.Image
		}
		start := c.Clock.Now()
		preds, err := c.Backend.Infer(ctx, images)
		if err != nil {
			return err
		}
		perImage := c.Clock.Since(start) / time.Duration(len(batch))

		for i, s := range batch {
			truth, err := c.cropTruth(s)
			if err != nil {
				return err
			}
			scored, err := collector.AddImage(s.ID, truth, preds[i], perImage)
			if err != nil {
				return err
			}
			if !scored {
				monitoring.Diagf("test: image %s skipped (single-class truth)", s.ID)
			}
		}
	}

	monitoring.Opsf("test: scored %d images, skipped %d", collector.Scored(), collector.Skipped())
	if err := collector.Report(c.ReportTo); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if c.Registry != nil {
		rows := make([]rundb.Metric, 0)
		for _, r := range collector.Rows() {
			rows = append(rows, rundb.Metric{RunID: runID, Name: r.Name, Statistic: r.Statistic, Value: r.Value})
		}
		if err := c.Registry.AddMetrics(rows); err != nil {
			return err
		}
	}
	if c.SummaryDir != "" {
		if err := summary.WriteMetricsReport(c.FS, c.SummaryDir, collector.Rows()); err != nil {
			return err
		}
	}
	return nil
}

// cropTruth trims the sample's one-hot mask to the backend's output shape
// under VALID padding.
func (c *Config) cropTruth(s stream.Sample) (raster.Planes, error) {
	if !s.HasMask() {
		return raster.Planes{}, fmt.Errorf("image %s has no ground truth", s.ID)
	}
	if c.Pad != tilegrid.PaddingValid {
		return s.Mask, nil
	}
	if s.Mask.H <= 2*tilegrid.Margin || s.Mask.W <= 2*tilegrid.Margin {
		return raster.Planes{}, fmt.Errorf("image %s: %dx%d leaves no output under VALID padding (margin %d per side); use SAME padding or larger images",
			s.ID, s.Mask.H, s.Mask.W, tilegrid.Margin)
	}
	h, w := tilegrid.OutputShape(s.Mask.H, s.Mask.W, c.Pad)
	return s.Mask.Crop(tilegrid.Margin, tilegrid.Margin, h, w)
}

// predict runs tile-mode inference: one class-index TIFF per input.
func (c *Config) predict(ctx context.Context) error {
	if err := c.Backend.Load(c.FS, c.Checkpoint); err != nil {
		return err
	}
	if err := c.FS.MkdirAll(c.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir %s: %w", c.OutputDir, err)
	}

	batches := stream.NewBatcher(stream.NewOnePass(c.Corpus, c.Loader), c.BatchSize, false)
	written := 0
	for {
		batch, err := batches.NextBatch(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrExhausted) {
				break
			}
			return err
		}

		images := make([]raster.Planes, len(batch))
		for i, s := range batch {
			images[i] = s.Image
		}
		preds, err := c.Backend.Infer(ctx, images)
		if err != nil {
			return err
		}
		for i, s := range batch {
			out := filepath.Join(c.OutputDir, s.ID+".tif")
			if err := imageio.SaveGrayTIFF(c.FS, out, raster.LabelsToGray(preds[i].Argmax())); err != nil {
				return err
			}
			written++
			monitoring.Tracef("predict: wrote %s", out)
		}
	}
	monitoring.Opsf("predict: wrote %d segmentations to %s", written, c.OutputDir)
	return nil
}

// largePredict streams tiles through the backend (direct or tumble) into
// the mosaic assembler.
func (c *Config) largePredict(ctx context.Context) error {
	if err := c.Backend.Load(c.FS, c.Checkpoint); err != nil {
		return err
	}
	if err := c.FS.MkdirAll(c.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir %s: %w", c.OutputDir, err)
	}

	tiles := stream.NewTileSource(c.FS, c.Corpus, c.Channels, c.TileH, c.TileW, c.Pad)
	assembler := mosaic.NewAssembler(c.Classes, c.Pad, &mosaic.PNGSink{FS: c.FS, Dir: c.OutputDir})

	for {
		pending, err := nextTiles(ctx, tiles, c.BatchSize)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			break
		}

		inputs := make([]raster.Planes, len(pending))
		for i, t := range pending {
			inputs[i] = t.Input
		}
		var preds []raster.Planes
		if c.Ensemble {
			preds, err = ensemble.Predict(ctx, c.Backend, inputs)
		} else {
			preds, err = c.Backend.Infer(ctx, inputs)
		}
		if err != nil {
			return err
		}

		for i, t := range pending {
			err := assembler.Add(mosaic.Tile{
				ID:      t.ID,
				Origin:  t.Origin,
				SourceH: t.SourceH,
				SourceW: t.SourceW,
				Pred:    preds[i],
			})
			if err != nil {
				return err
			}
		}
	}
	return assembler.Flush()
}

// nextTiles pulls up to n tiles, stopping early at exhaustion.
func nextTiles(ctx context.Context, src *stream.TileSource, n int) ([]stream.Tile, error) {
	out := make([]stream.Tile, 0, n)
	for len(out) < n {
		t, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrExhausted) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
