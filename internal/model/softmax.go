package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/stream"
	"github.com/josegcpa/unet/internal/tilegrid"
)

// Softmax is the reference backend: an independent multinomial logistic
// regression per pixel over the input channels. It has no spatial context,
// so segmentation quality is what channel colors alone can give — enough to
// exercise every pipeline path and to learn separable toy tasks in tests.
type Softmax struct {
	channels int
	classes  int
	lr       float64
	pad      tilegrid.Padding

	// weights[c] holds the class-c coefficients: one per channel plus a
	// trailing bias term.
	weights [][]float64
}

// NewSoftmax builds an untrained backend.
func NewSoftmax(channels, classes int, learningRate float64, pad tilegrid.Padding) *Softmax {
	w := make([][]float64, classes)
	for c := range w {
		w[c] = make([]float64, channels+1)
	}
	return &Softmax{channels: channels, classes: classes, lr: learningRate, pad: pad, weights: w}
}

// Infer returns per-pixel class probabilities. Under VALID padding the
// output is center-cropped by the receptive-field margin, matching what a
// valid-convolution network would emit.
func (m *Softmax) Infer(ctx context.Context, images []raster.Planes) ([]raster.Planes, error) {
	out := make([]raster.Planes, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if img.C != m.channels {
			return nil, fmt.Errorf("input %d has %d channels, backend expects %d", i, img.C, m.channels)
		}
		probs := m.forward(img)
		cropped, err := cropValid(probs, m.pad)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		out[i] = cropped
	}
	return out, nil
}

// TrainStep runs one SGD step of weighted cross-entropy over the batch.
func (m *Softmax) TrainStep(ctx context.Context, batch stream.Batch) (float64, error) {
	if len(batch) == 0 {
		return 0, fmt.Errorf("empty training batch")
	}
	grad := make([][]float64, m.classes)
	for c := range grad {
		grad[c] = make([]float64, m.channels+1)
	}

	var loss float64
	var pixels float64
	for _, s := range batch {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !s.HasMask() {
			return 0, fmt.Errorf("sample %s has no mask", s.ID)
		}
		img, truth, weight, err := cropTraining(s, m.pad)
		if err != nil {
			return 0, fmt.Errorf("sample %s: %w", s.ID, err)
		}

		probs := m.forward(img)
		for i := 0; i < img.H*img.W; i++ {
			w := 1.0
			if len(weight.Pix) > 0 {
				w = float64(weight.Pix[i])
			}
			for c := 0; c < m.classes; c++ {
				p := float64(probs.Ch[c].Pix[i])
				t := float64(truth.Ch[c].Pix[i])
				if t > 0 {
					loss -= w * t * math.Log(math.Max(p, 1e-12))
				}
				g := w * (p - t)
				for ch := 0; ch < m.channels; ch++ {
					grad[c][ch] += g * float64(img.Ch[ch].Pix[i])
				}
				grad[c][m.channels] += g
			}
			pixels += w
		}
	}
	if pixels == 0 {
		return 0, fmt.Errorf("training batch has zero total weight")
	}

	for c := range m.weights {
		for j := range m.weights[c] {
			m.weights[c][j] -= m.lr * grad[c][j] / pixels
		}
	}
	return loss / pixels, nil
}

// forward computes softmax probabilities for every pixel.
func (m *Softmax) forward(img raster.Planes) raster.Planes {
	out := raster.NewPlanes(img.H, img.W, m.classes)
	logits := make([]float64, m.classes)
	for i := 0; i < img.H*img.W; i++ {
		maxLogit := math.Inf(-1)
		for c := 0; c < m.classes; c++ {
			z := m.weights[c][m.channels]
			for ch := 0; ch < m.channels; ch++ {
				z += m.weights[c][ch] * float64(img.Ch[ch].Pix[i])
			}
			logits[c] = z
			if z > maxLogit {
				maxLogit = z
			}
		}
		var sum float64
		for c := 0; c < m.classes; c++ {
			logits[c] = math.Exp(logits[c] - maxLogit)
			sum += logits[c]
		}
		for c := 0; c < m.classes; c++ {
			out.Ch[c].Pix[i] = float32(logits[c] / sum)
		}
	}
	return out
}

// cropValid trims the receptive-field margin from an output under VALID.
func cropValid(ps raster.Planes, pad tilegrid.Padding) (raster.Planes, error) {
	if pad != tilegrid.PaddingValid {
		return ps, nil
	}
	h, w := tilegrid.OutputShape(ps.H, ps.W, pad)
	if h <= 0 || w <= 0 {
		return raster.Planes{}, fmt.Errorf("input %dx%d leaves no valid output", ps.H, ps.W)
	}
	return ps.Crop(tilegrid.Margin, tilegrid.Margin, h, w)
}

// cropTraining center-crops the whole sample under VALID so image pixels
// line up with the truth the network can actually predict.
func cropTraining(s stream.Sample, pad tilegrid.Padding) (raster.Planes, raster.Planes, raster.Plane, error) {
	if pad != tilegrid.PaddingValid {
		return s.Image, s.Mask, s.Weight, nil
	}
	h, w := tilegrid.OutputShape(s.Image.H, s.Image.W, pad)
	if h <= 0 || w <= 0 {
		return raster.Planes{}, raster.Planes{}, raster.Plane{}, fmt.Errorf("image %dx%d leaves no valid output", s.Image.H, s.Image.W)
	}
	img, err := s.Image.Crop(tilegrid.Margin, tilegrid.Margin, h, w)
	if err != nil {
		return raster.Planes{}, raster.Planes{}, raster.Plane{}, err
	}
	mask, err := s.Mask.Crop(tilegrid.Margin, tilegrid.Margin, h, w)
	if err != nil {
		return raster.Planes{}, raster.Planes{}, raster.Plane{}, err
	}
	var weight raster.Plane
	if len(s.Weight.Pix) > 0 {
		weight, err = s.Weight.Crop(tilegrid.Margin, tilegrid.Margin, h, w)
		if err != nil {
			return raster.Planes{}, raster.Planes{}, raster.Plane{}, err
		}
	}
	return img, mask, weight, nil
}

// checkpoint is the on-disk parameter format.
type checkpoint struct {
	Channels int         `json:"channels"`
	Classes  int         `json:"classes"`
	Weights  [][]float64 `json:"weights"`
}

// Save writes the parameters as JSON.
func (m *Softmax) Save(fsys fsutil.FileSystem, path string) error {
	data, err := json.Marshal(checkpoint{Channels: m.channels, Classes: m.classes, Weights: m.weights})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", path, err)
	}
	return nil
}

// Load restores parameters, rejecting shape mismatches.
func (m *Softmax) Load(fsys fsutil.FileSystem, path string) error {
	if !fsys.Exists(path) {
		return fmt.Errorf("checkpoint %s: %w", path, ErrNoCheckpoint)
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if cp.Channels != m.channels || cp.Classes != m.classes {
		return fmt.Errorf("checkpoint %s is %d-channel %d-class, backend is %d-channel %d-class",
			path, cp.Channels, cp.Classes, m.channels, m.classes)
	}
	if len(cp.Weights) != m.classes {
		return fmt.Errorf("checkpoint %s has %d weight rows, want %d", path, len(cp.Weights), m.classes)
	}
	for c, row := range cp.Weights {
		if len(row) != m.channels+1 {
			return fmt.Errorf("checkpoint %s class %d has %d coefficients, want %d", path, c, len(row), m.channels+1)
		}
	}
	m.weights = cp.Weights
	return nil
}
