// Package corpus enumerates the samples a run will consume. A corpus is an
// ordered list of entries resolved up front from one of three descriptors:
// paired directories, a quality-control manifest, or a keyed sample store.
// Entry order is the stream order for one-pass modes.
package corpus

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/imageio"
)

// Entry names one sample's sources. Image is a filesystem path (or a store
// key for store-backed corpora); Mask and Weight are empty when absent.
type Entry struct {
	ID     string
	Image  string
	Mask   string
	Weight string
}

// Corpus is the resolved sample list plus a short descriptor recorded with
// each run.
type Corpus struct {
	Entries []Entry
	Desc    string
}

// Len returns the number of entries.
func (c *Corpus) Len() int { return len(c.Entries) }

// Trial truncates the corpus to its first n entries for smoke runs.
func (c *Corpus) Trial(n int) {
	if n > 0 && n < len(c.Entries) {
		c.Entries = c.Entries[:n]
	}
}

// FromDirectories builds a corpus from an image directory with optional mask
// and weight directories paired by base filename. When maskDir is set, every
// image must have a mask; a missing pair is an error, never a silent skip.
// Weight maps are optional per entry even when weightDir is set.
func FromDirectories(fsys fsutil.FileSystem, imageDir, maskDir, weightDir string) (*Corpus, error) {
	paths, err := listImages(fsys, imageDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", imageDir)
	}

	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		e := Entry{ID: baseID(p), Image: p}

		if maskDir != "" {
			mask, ok := findPaired(fsys, maskDir, p)
			if !ok {
				return nil, fmt.Errorf("image %s has no mask in %s", p, maskDir)
			}
			e.Mask = mask
		}
		if weightDir != "" {
			if w, ok := findPaired(fsys, weightDir, p); ok {
				e.Weight = w
			}
		}
		entries = append(entries, e)
	}

	return &Corpus{Entries: entries, Desc: "dir:" + imageDir}, nil
}

// FromGlob builds a mask-less corpus from a filesystem glob, for predict
// modes fed by arbitrary file sets.
func FromGlob(fsys fsutil.FileSystem, pattern string) (*Corpus, error) {
	matches, err := fsys.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	var entries []Entry
	for _, m := range matches {
		if imageio.HasImageExtension(m) {
			entries = append(entries, Entry{ID: baseID(m), Image: m})
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("glob %s matched no images", pattern)
	}
	return &Corpus{Entries: entries, Desc: "glob:" + pattern}, nil
}

// FromKeys builds a corpus over a keyed sample store: each key names one
// stored record, in key-list order. Whether every key resolves is the
// loader's concern; a missing key fails the stream, not the corpus build.
func FromKeys(keys []string, storePath string) (*Corpus, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("empty key list for store %s", storePath)
	}
	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = Entry{ID: k, Image: k}
	}
	return &Corpus{Entries: entries, Desc: "store:" + storePath}, nil
}

// listImages returns the sorted recognized image paths directly under dir.
func listImages(fsys fsutil.FileSystem, dir string) ([]string, error) {
	matches, err := fsys.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, m := range matches {
		if imageio.HasImageExtension(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// findPaired locates dir/<base>.<ext> for the image path, trying the image's
// own extension first and then the other recognized ones.
func findPaired(fsys fsutil.FileSystem, dir, imagePath string) (string, bool) {
	base := baseID(imagePath)

	candidate := filepath.Join(dir, filepath.Base(imagePath))
	if fsys.Exists(candidate) {
		return candidate, true
	}
	for _, ext := range imageio.Extensions {
		candidate := filepath.Join(dir, base+ext)
		if fsys.Exists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// baseID strips the directory and extension from a path.
func baseID(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
