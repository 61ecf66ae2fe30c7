package samplestore

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/josegcpa/unet/internal/fsutil"
)

// ReadKeyList reads a newline-delimited key file. Blank lines are ignored;
// key order is preserved and becomes the stream order for one-pass modes.
func ReadKeyList(fsys fsutil.FileSystem, path string) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key list %s: %w", path, err)
	}
	defer f.Close()

	var keys []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key := strings.TrimSpace(sc.Text())
		if key != "" {
			keys = append(keys, key)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read key list %s: %w", path, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("key list %s has no keys", path)
	}
	return keys, nil
}

// WriteKeyList writes keys one per line.
func WriteKeyList(fsys fsutil.FileSystem, path string, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("refusing to write empty key list %s", path)
	}
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('\n')
	}
	if err := fsys.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write key list %s: %w", path, err)
	}
	return nil
}
