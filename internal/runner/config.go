// Package runner orchestrates the pipeline modes: the train, test, predict,
// and large-predict loops, their logging and checkpoint cadence, and the run
// registry bookkeeping around them.
package runner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/josegcpa/unet/internal/augment"
	"github.com/josegcpa/unet/internal/corpus"
	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/model"
	"github.com/josegcpa/unet/internal/rundb"
	"github.com/josegcpa/unet/internal/stream"
	"github.com/josegcpa/unet/internal/tilegrid"
	"github.com/josegcpa/unet/internal/timeutil"
)

// Mode is the closed set of pipeline modes. Ensemble ("tumble") is an
// independent flag, valid only with ModeLargePredict.
type Mode int

const (
	ModeTrain Mode = iota
	ModeTest
	ModePredict
	ModeLargePredict
)

// ParseMode maps the CLI string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "train":
		return ModeTrain, nil
	case "test":
		return ModeTest, nil
	case "predict":
		return ModePredict, nil
	case "large-predict", "large_predict":
		return ModeLargePredict, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want train, test, predict, or large-predict)", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeTest:
		return "test"
	case ModePredict:
		return "predict"
	case ModeLargePredict:
		return "large-predict"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config wires one run. Validate resolves defaults and rejects invalid
// combinations before any I/O happens.
type Config struct {
	Mode     Mode
	Ensemble bool

	FS        fsutil.FileSystem
	Clock     timeutil.Clock
	Corpus    *corpus.Corpus
	Loader    stream.Loader
	Backend   model.Backend
	Augmenter *augment.Augmenter

	Channels int
	Classes  int
	TileH    int
	TileW    int
	Pad      tilegrid.Padding

	BatchSize int
	Steps     int
	// Epochs, when positive, overrides Steps to Epochs*len(corpus)/BatchSize.
	Epochs int
	Seed   int64

	LogEveryN        int
	SummaryEveryN    int
	CheckpointEveryN int
	ShuffleBuffer    int
	BatchShuffle     int
	Workers          int

	Checkpoint string
	OutputDir  string
	SummaryDir string

	// Registry is optional; when set, the run and its metric rows are
	// recorded there.
	Registry *rundb.DB

	// ReportTo receives the TEST,<metric>,<statistic>,<value> lines.
	ReportTo io.Writer
}

// Validate fills defaults and checks the configuration. The checkpoint gate
// lives here: test and predict modes without a restorable checkpoint are a
// configuration error, not a silent no-op.
func (c *Config) Validate() error {
	if c.FS == nil {
		c.FS = fsutil.OSFileSystem{}
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	if c.ReportTo == nil {
		c.ReportTo = os.Stdout
	}
	if c.LogEveryN <= 0 {
		c.LogEveryN = 100
	}
	if c.SummaryEveryN <= 0 {
		c.SummaryEveryN = 10
	}
	if c.CheckpointEveryN <= 0 {
		c.CheckpointEveryN = 500
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}

	if c.Corpus == nil || c.Corpus.Len() == 0 {
		return fmt.Errorf("empty corpus")
	}
	if c.Backend == nil {
		return fmt.Errorf("no backend configured")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size %d must be positive", c.BatchSize)
	}
	if c.Classes != 2 && c.Classes != 3 {
		return fmt.Errorf("%d classes unsupported (want 2 or 3)", c.Classes)
	}
	if c.Channels < 1 || c.Channels > 4 {
		return fmt.Errorf("%d channels unsupported (want 1..4)", c.Channels)
	}

	if c.Ensemble && c.Mode != ModeLargePredict {
		return fmt.Errorf("ensemble is only available in large-predict mode, not %s", c.Mode)
	}

	switch c.Mode {
	case ModeTrain:
		if c.Steps <= 0 && c.Epochs <= 0 {
			return fmt.Errorf("train mode needs --steps or --epochs")
		}
		if c.Checkpoint == "" {
			return fmt.Errorf("train mode needs a checkpoint path to save to")
		}
		if c.Loader == nil {
			return fmt.Errorf("train mode needs a sample loader")
		}
	case ModeTest:
		if c.Loader == nil {
			return fmt.Errorf("test mode needs a sample loader")
		}
		if err := model.RequireCheckpoint(c.FS, c.Checkpoint); err != nil {
			return err
		}
	case ModePredict:
		if c.Loader == nil {
			return fmt.Errorf("predict mode needs a sample loader")
		}
		if c.OutputDir == "" {
			return fmt.Errorf("predict mode needs --output-dir")
		}
		if err := model.RequireCheckpoint(c.FS, c.Checkpoint); err != nil {
			return err
		}
	case ModeLargePredict:
		if c.OutputDir == "" {
			return fmt.Errorf("large-predict mode needs --output-dir")
		}
		if c.TileH <= 0 || c.TileW <= 0 {
			return fmt.Errorf("large-predict mode needs positive tile dimensions, got %dx%d", c.TileH, c.TileW)
		}
		if c.Ensemble && c.TileH != c.TileW {
			return fmt.Errorf("ensemble needs square tiles, got %dx%d", c.TileH, c.TileW)
		}
		if err := model.RequireCheckpoint(c.FS, c.Checkpoint); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %d", int(c.Mode))
	}
	return nil
}

// trainSteps resolves the step budget, applying the epochs override.
func (c *Config) trainSteps() int {
	if c.Epochs > 0 {
		return c.Epochs * c.Corpus.Len() / c.BatchSize
	}
	return c.Steps
}
