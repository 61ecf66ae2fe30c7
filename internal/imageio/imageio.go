// Package imageio loads and persists the pipeline's rasters. All file access
// goes through fsutil.FileSystem so corpus and sink behavior is testable
// against an in-memory filesystem. Formats are inferred from extensions;
// png, jpg/jpeg, tif/tiff, gif, and bmp decode transparently.
package imageio

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/raster"
)

// Extensions recognized when pairing corpus images with masks and weights.
var Extensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"}

// HasImageExtension reports whether the path carries a recognized extension.
func HasImageExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load decodes the image at path.
func Load(fsys fsutil.FileSystem, path string) (image.Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

// LoadPlanes decodes the image at path into a channels-deep [0,1] stack.
func LoadPlanes(fsys fsutil.FileSystem, path string, channels int) (raster.Planes, error) {
	img, err := Load(fsys, path)
	if err != nil {
		return raster.Planes{}, err
	}
	ps, err := raster.FromImage(img, channels)
	if err != nil {
		return raster.Planes{}, fmt.Errorf("image %s: %w", path, err)
	}
	return ps, nil
}

// LoadLabels decodes a mask image into a class-index plane. With two classes
// any nonzero pixel is class 1; with more classes the raw 8-bit value is the
// class index and out-of-range values are decode errors.
func LoadLabels(fsys fsutil.FileSystem, path string, classes int) (raster.Plane, error) {
	img, err := Load(fsys, path)
	if err != nil {
		return raster.Plane{}, err
	}

	gray, err := raster.FromImage(img, 1)
	if err != nil {
		return raster.Plane{}, fmt.Errorf("mask %s: %w", path, err)
	}

	labels := raster.NewPlane(gray.H, gray.W)
	for i, v := range gray.Ch[0].Pix {
		val := int(v*255 + 0.5)
		switch {
		case classes == 2:
			if val > 0 {
				labels.Pix[i] = 1
			}
		case val < classes:
			labels.Pix[i] = float32(val)
		default:
			return raster.Plane{}, fmt.Errorf("mask %s: pixel value %d outside %d classes", path, val, classes)
		}
	}
	return labels, nil
}

// LoadWeights decodes a weight-map image into a [0,1] plane.
func LoadWeights(fsys fsutil.FileSystem, path string) (raster.Plane, error) {
	gray, err := LoadPlanes(fsys, path, 1)
	if err != nil {
		return raster.Plane{}, err
	}
	return gray.Ch[0], nil
}

// Save encodes img to path, choosing the format from the extension.
func Save(fsys fsutil.FileSystem, path string, img image.Image) error {
	format, err := imaging.FormatFromExtension(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}

	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := imaging.Encode(w, img, format); err != nil {
		w.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return w.Close()
}

// SaveGrayTIFF writes a single-channel 8-bit raster as a deflate-compressed
// TIFF. Tile-mode predictions use this: one class-index raster per input.
func SaveGrayTIFF(fsys fsutil.FileSystem, path string, img *image.Gray) error {
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		w.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return w.Close()
}
