// Command unet drives the segmentation pipeline: training, evaluation, and
// tile or large-image prediction over an image corpus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/josegcpa/unet/internal/augment"
	"github.com/josegcpa/unet/internal/corpus"
	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/model"
	"github.com/josegcpa/unet/internal/monitoring"
	"github.com/josegcpa/unet/internal/rundb"
	"github.com/josegcpa/unet/internal/runner"
	"github.com/josegcpa/unet/internal/samplestore"
	"github.com/josegcpa/unet/internal/stream"
	"github.com/josegcpa/unet/internal/tilegrid"
	"github.com/josegcpa/unet/internal/version"
)

var (
	modeFlag = flag.String("mode", "", "Pipeline mode: train, test, predict, or large-predict")
	ensemble = flag.Bool("ensemble", false, "Average predictions over the 8 dihedral orientations (large-predict only)")

	datasetDir  = flag.String("dataset-dir", "", "Directory of input images")
	truthDir    = flag.String("truth-dir", "", "Directory of mask images paired by base name")
	weightDir   = flag.String("weight-dir", "", "Directory of weight-map images paired by base name")
	csvManifest = flag.String("csv-manifest", "", "Quality-control CSV manifest (id, path, flag)")
	storePath   = flag.String("store", "", "Keyed sample store (SQLite)")
	keyList     = flag.String("key-list", "", "Newline-delimited key list for the sample store")
	inputGlob   = flag.String("input-glob", "", "Glob of input images (predict modes)")

	outputDir  = flag.String("output-dir", "", "Directory for prediction outputs")
	checkpoint = flag.String("checkpoint", "", "Checkpoint path")
	runDB      = flag.String("run-db", "", "Run registry SQLite file (optional)")
	migrations = flag.String("migrations", "migrations", "Run registry migrations directory")
	summaryDir = flag.String("summary-dir", "", "Directory for summary artifacts (optional)")

	augmentConfig = flag.String("augment-config", "", "JSON augmentation profile (train mode; defaults apply when omitted)")
	inputHeight   = flag.Int("input-height", 256, "Network input height (tile height in large-predict)")
	inputWidth    = flag.Int("input-width", 256, "Network input width (tile width in large-predict)")
	padding       = flag.String("padding", "SAME", "Convolution padding regime: VALID or SAME")
	nClasses      = flag.Int("n-classes", 2, "Number of segmentation classes (2 or 3)")
	channels      = flag.Int("channels", 3, "Input image channels")

	batchSize    = flag.Int("batch-size", 4, "Samples per batch")
	steps        = flag.Int("steps", 0, "Training step budget")
	epochs       = flag.Int("epochs", 0, "Epoch budget; overrides -steps when positive")
	learningRate = flag.Float64("learning-rate", 0.1, "Backend learning rate")
	seed         = flag.Int64("seed", 42, "Seed for all stream and augmentation randomness")
	trial        = flag.Bool("trial", false, "Smoke run: keep only the first 50 corpus entries")
	weighted     = flag.Bool("weighted", false, "Weight the loss by explicit or class-balancing weight maps")
	truthOnly    = flag.Bool("truth-only", false, "Drop entries whose mask has no positive pixels (train/test)")

	logEvery        = flag.Int("log-every", 100, "Ops-log cadence in steps")
	summaryEvery    = flag.Int("summary-every", 10, "Training-curve sampling cadence in steps")
	checkpointEvery = flag.Int("checkpoint-every", 500, "Checkpoint cadence in steps")
	shuffleBuffer   = flag.Int("shuffle-buffer", 500, "Sample shuffle buffer size (train)")
	batchShuffle    = flag.Int("batch-shuffle", 16, "Batch shuffle buffer size (train)")
	workers         = flag.Int("workers", 1, "Augmentation worker count")

	logFile     = flag.String("log-file", "", "Tee the ops log to this file")
	verbose     = flag.Bool("verbose", false, "Enable diagnostic logging")
	trace       = flag.Bool("trace", false, "Enable per-tile trace logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// trialEntries is how much corpus a -trial smoke run keeps.
const trialEntries = 50

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("unet %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	closeLogs, err := wireLogging()
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			monitoring.Opsf("interrupted")
			os.Exit(130)
		}
		log.Fatalf("unet: %v", err)
	}
}

// wireLogging configures the three monitoring streams from the flags.
func wireLogging() (func(), error) {
	var ops io.Writer = os.Stderr
	closer := func() {}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", *logFile, err)
		}
		ops = io.MultiWriter(os.Stderr, f)
		closer = func() { f.Close() }
	}
	w := monitoring.LogWriters{Ops: ops}
	if *verbose || *trace {
		w.Diag = ops
	}
	if *trace {
		w.Trace = ops
	}
	monitoring.SetLogWriters(w)
	return closer, nil
}

func run(ctx context.Context) error {
	mode, err := runner.ParseMode(*modeFlag)
	if err != nil {
		return err
	}
	pad, err := tilegrid.ParsePadding(*padding)
	if err != nil {
		return err
	}

	fs := fsutil.OSFileSystem{}

	var store *samplestore.Store
	if *storePath != "" {
		store, err = samplestore.Open(*storePath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	crp, loader, err := buildCorpus(fs, mode, store)
	if err != nil {
		return err
	}
	if *trial {
		crp.Trial(trialEntries)
	}
	if *truthOnly && (mode == runner.ModeTrain || mode == runner.ModeTest) {
		crp, err = stream.TruthOnly(crp, loader)
		if err != nil {
			return err
		}
	}

	var registry *rundb.DB
	if *runDB != "" {
		registry, err = rundb.Open(*runDB)
		if err != nil {
			return err
		}
		defer registry.Close()
		if err := registry.MigrateUp(*migrations); err != nil {
			return err
		}
	}

	var augmenter *augment.Augmenter
	if mode == runner.ModeTrain {
		var prof *augment.Profile
		if *augmentConfig != "" {
			prof, err = augment.LoadProfile(fs, *augmentConfig)
			if err != nil {
				return err
			}
		}
		augmenter = augment.New(prof, rand.New(rand.NewSource(*seed+1)))
	}

	cfg := &runner.Config{
		Mode:      mode,
		Ensemble:  *ensemble,
		FS:        fs,
		Corpus:    crp,
		Loader:    loader,
		Backend:   model.NewSoftmax(*channels, *nClasses, *learningRate, pad),
		Augmenter: augmenter,

		Channels: *channels,
		Classes:  *nClasses,
		TileH:    *inputHeight,
		TileW:    *inputWidth,
		Pad:      pad,

		BatchSize: *batchSize,
		Steps:     *steps,
		Epochs:    *epochs,
		Seed:      *seed,

		LogEveryN:        *logEvery,
		SummaryEveryN:    *summaryEvery,
		CheckpointEveryN: *checkpointEvery,
		ShuffleBuffer:    *shuffleBuffer,
		BatchShuffle:     *batchShuffle,
		Workers:          *workers,

		Checkpoint: *checkpoint,
		OutputDir:  *outputDir,
		SummaryDir: *summaryDir,
		Registry:   registry,
		ReportTo:   os.Stdout,
	}
	return runner.Run(ctx, cfg)
}

// buildCorpus resolves the corpus descriptor flags: exactly one of directory
// pairing, CSV manifest, keyed store, or input glob.
func buildCorpus(fs fsutil.FileSystem, mode runner.Mode, store *samplestore.Store) (*corpus.Corpus, stream.Loader, error) {
	descriptors := 0
	for _, set := range []bool{*datasetDir != "", *csvManifest != "", *storePath != "", *inputGlob != ""} {
		if set {
			descriptors++
		}
	}
	if descriptors != 1 {
		return nil, nil, fmt.Errorf("exactly one corpus descriptor required: -dataset-dir, -csv-manifest, -store, or -input-glob")
	}

	withTruth := mode == runner.ModeTrain || mode == runner.ModeTest

	switch {
	case *storePath != "":
		if *keyList == "" {
			return nil, nil, fmt.Errorf("-store needs -key-list")
		}
		keys, err := samplestore.ReadKeyList(fs, *keyList)
		if err != nil {
			return nil, nil, err
		}
		crp, err := corpus.FromKeys(keys, *storePath)
		if err != nil {
			return nil, nil, err
		}
		return crp, &stream.StoreLoader{Store: store, Channels: *channels, Classes: *nClasses, Weighted: *weighted}, nil

	case *csvManifest != "":
		crp, err := corpus.FromManifest(fs, *csvManifest)
		if err != nil {
			return nil, nil, err
		}
		return crp, fileLoader(fs), nil

	case *inputGlob != "":
		crp, err := corpus.FromGlob(fs, *inputGlob)
		if err != nil {
			return nil, nil, err
		}
		return crp, fileLoader(fs), nil

	default:
		maskDir := ""
		if withTruth {
			if *truthDir == "" {
				return nil, nil, fmt.Errorf("%s mode needs -truth-dir", mode)
			}
			maskDir = *truthDir
		}
		crp, err := corpus.FromDirectories(fs, *datasetDir, maskDir, *weightDir)
		if err != nil {
			return nil, nil, err
		}
		return crp, fileLoader(fs), nil
	}
}

func fileLoader(fs fsutil.FileSystem) stream.Loader {
	return &stream.FileLoader{FS: fs, Channels: *channels, Classes: *nClasses, Weighted: *weighted}
}
