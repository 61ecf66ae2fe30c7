// Package model is the boundary to the segmentation network. The pipeline
// only needs the Backend contract: train on batches, infer per-pixel class
// probabilities, save and restore checkpoints. A real U-Net engine plugs in
// behind this interface; the package ships a per-pixel softmax-regression
// reference backend so every mode runs end-to-end without one.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/stream"
)

// ErrNoCheckpoint reports a missing checkpoint where one is required.
var ErrNoCheckpoint = errors.New("checkpoint not found")

// Backend is the network contract. Infer returns one class-probability
// stack per input; under VALID padding outputs are smaller than inputs by
// the network's receptive-field margin.
type Backend interface {
	// TrainStep runs one optimization step on the batch and returns its loss.
	TrainStep(ctx context.Context, batch stream.Batch) (float64, error)

	// Infer returns per-pixel class probabilities for each input.
	Infer(ctx context.Context, images []raster.Planes) ([]raster.Planes, error)

	// Save persists the parameters to path.
	Save(fsys fsutil.FileSystem, path string) error

	// Load restores parameters from path. A missing file wraps
	// ErrNoCheckpoint.
	Load(fsys fsutil.FileSystem, path string) error
}

// CheckpointExists reports whether a restorable checkpoint is present.
func CheckpointExists(fsys fsutil.FileSystem, path string) bool {
	return path != "" && fsys.Exists(path)
}

// RequireCheckpoint is the gate for test/predict modes: those runs are
// meaningless without trained parameters, so absence is a configuration
// error, not a silent no-op.
func RequireCheckpoint(fsys fsutil.FileSystem, path string) error {
	if path == "" {
		return fmt.Errorf("no checkpoint path configured: %w", ErrNoCheckpoint)
	}
	if !fsys.Exists(path) {
		return fmt.Errorf("checkpoint %s: %w", path, ErrNoCheckpoint)
	}
	return nil
}
