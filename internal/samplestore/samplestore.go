// Package samplestore persists prepared samples in a single SQLite file for
// keyed random access. A store plus a newline-delimited key list is the
// third corpus form: the key list fixes stream order and subsetting while
// the store holds the pixels.
package samplestore

import (
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/josegcpa/unet/internal/raster"
)

// schema.sql defines the samples table: keyed 8-bit image and mask blobs
// plus optional float32 weight blobs.
//
//go:embed schema.sql
var schemaSQL string

// ErrKeyNotFound reports a key list entry with no row in the store.
var ErrKeyNotFound = errors.New("sample key not found")

// Record is one stored sample. Mask and Weight may be empty (no pixels).
type Record struct {
	Key      string
	Channels int
	Classes  int
	Image    raster.Planes
	Mask     raster.Plane
	Weight   raster.Plane
}

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a sample store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sample store %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize sample store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Put inserts or replaces a record.
func (s *Store) Put(rec *Record) error {
	if rec.Key == "" {
		return errors.New("sample key must not be empty")
	}
	if rec.Image.C != rec.Channels || len(rec.Image.Ch) != rec.Channels {
		return fmt.Errorf("sample %s: image has %d channels, record says %d", rec.Key, rec.Image.C, rec.Channels)
	}

	h, w := rec.Image.H, rec.Image.W
	imageBlob := encodeBytes(rec.Image)

	var maskBlob, weightBlob interface{}
	if len(rec.Mask.Pix) > 0 {
		if rec.Mask.H != h || rec.Mask.W != w {
			return fmt.Errorf("sample %s: mask %dx%d does not match image %dx%d", rec.Key, rec.Mask.H, rec.Mask.W, h, w)
		}
		maskBlob = encodeLabels(rec.Mask)
	}
	if len(rec.Weight.Pix) > 0 {
		if rec.Weight.H != h || rec.Weight.W != w {
			return fmt.Errorf("sample %s: weight %dx%d does not match image %dx%d", rec.Key, rec.Weight.H, rec.Weight.W, h, w)
		}
		weightBlob = encodeFloats(rec.Weight)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO samples (
				sample_key, height, width, channels, classes,
				image, mask, weight, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Key, h, w, rec.Channels, rec.Classes,
			imageBlob, maskBlob, weightBlob, time.Now().UnixNano(),
		)
		return err
	})
}

// Get fetches one record by key. A missing key wraps ErrKeyNotFound.
func (s *Store) Get(key string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT height, width, channels, classes, image, mask, weight
		FROM samples
		WHERE sample_key = ?`, key)

	var h, w, channels, classes int
	var imageBlob []byte
	var maskBlob, weightBlob []byte
	err := row.Scan(&h, &w, &channels, &classes, &imageBlob, &maskBlob, &weightBlob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sample %q: %w", key, ErrKeyNotFound)
		}
		return nil, fmt.Errorf("scan sample %q: %w", key, err)
	}

	rec := &Record{Key: key, Channels: channels, Classes: classes}
	rec.Image, err = decodeBytes(imageBlob, h, w, channels)
	if err != nil {
		return nil, fmt.Errorf("sample %q image: %w", key, err)
	}
	if len(maskBlob) > 0 {
		rec.Mask, err = decodeLabels(maskBlob, h, w)
		if err != nil {
			return nil, fmt.Errorf("sample %q mask: %w", key, err)
		}
	}
	if len(weightBlob) > 0 {
		rec.Weight, err = decodeFloats(weightBlob, h, w)
		if err != nil {
			return nil, fmt.Errorf("sample %q weight: %w", key, err)
		}
	}
	return rec, nil
}

// Keys returns all keys in lexical order.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT sample_key FROM samples ORDER BY sample_key`)
	if err != nil {
		return nil, fmt.Errorf("query sample keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan sample key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Count returns the number of stored samples.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}

// encodeBytes packs a [0,1] stack into channel-planar 8-bit bytes.
func encodeBytes(ps raster.Planes) []byte {
	out := make([]byte, 0, ps.H*ps.W*ps.C)
	for _, ch := range ps.Ch {
		for _, v := range ch.Pix {
			out = append(out, quantize(v))
		}
	}
	return out
}

func decodeBytes(b []byte, h, w, c int) (raster.Planes, error) {
	if len(b) != h*w*c {
		return raster.Planes{}, fmt.Errorf("image blob has %d bytes, want %d", len(b), h*w*c)
	}
	ps := raster.NewPlanes(h, w, c)
	for ci := 0; ci < c; ci++ {
		plane := b[ci*h*w : (ci+1)*h*w]
		for i, v := range plane {
			ps.Ch[ci].Pix[i] = float32(v) / 255
		}
	}
	return ps, nil
}

// encodeLabels packs a class-index plane into 8-bit bytes.
func encodeLabels(p raster.Plane) []byte {
	out := make([]byte, len(p.Pix))
	for i, v := range p.Pix {
		out[i] = uint8(v)
	}
	return out
}

func decodeLabels(b []byte, h, w int) (raster.Plane, error) {
	if len(b) != h*w {
		return raster.Plane{}, fmt.Errorf("mask blob has %d bytes, want %d", len(b), h*w)
	}
	p := raster.NewPlane(h, w)
	for i, v := range b {
		p.Pix[i] = float32(v)
	}
	return p, nil
}

// encodeFloats packs a plane into little-endian float32 bytes.
func encodeFloats(p raster.Plane) []byte {
	out := make([]byte, 4*len(p.Pix))
	for i, v := range p.Pix {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeFloats(b []byte, h, w int) (raster.Plane, error) {
	if len(b) != 4*h*w {
		return raster.Plane{}, fmt.Errorf("weight blob has %d bytes, want %d", len(b), 4*h*w)
	}
	p := raster.NewPlane(h, w)
	for i := range p.Pix {
		p.Pix[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return p, nil
}

func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
