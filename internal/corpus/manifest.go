package corpus

import (
	"encoding/csv"
	"fmt"

	"github.com/josegcpa/unet/internal/fsutil"
)

// FromManifest builds a corpus from a quality-control CSV. Every row must
// have exactly three fields: identifier, image path, qc flag. Rows whose
// flag is "1" qualify; everything else (including a header row) is passed
// over by the flag check. Duplicate paths keep their first occurrence.
// Rows with the wrong field count are malformed and fail the whole parse.
func FromManifest(fsys fsutil.FileSystem, path string) (*Corpus, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("manifest %s is empty", path)
	}

	seen := make(map[string]bool)
	var entries []Entry
	for _, rec := range records {
		if rec[2] != "1" {
			continue
		}
		img := rec[1]
		if img == "" || seen[img] {
			continue
		}
		seen[img] = true
		entries = append(entries, Entry{ID: baseID(img), Image: img})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest %s qualified no images", path)
	}

	return &Corpus{Entries: entries, Desc: "csv:" + path}, nil
}
