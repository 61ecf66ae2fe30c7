package stream

import (
	"context"
	"fmt"

	"github.com/josegcpa/unet/internal/corpus"
	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/imageio"
	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/tilegrid"
)

// Tile is one network input cut from a large source image, carrying the
// provenance the reassembler needs: origin, source identifier, and the
// source's full-resolution shape.
type Tile struct {
	ID               string
	Origin           tilegrid.Origin
	SourceH, SourceW int
	Input            raster.Planes
}

// TileSource walks a corpus one large image at a time and yields its tiles
// in the geometry engine's row-major order. One image is decoded and held at
// a time; tiles are cut lazily per Next. All tiles of an image are emitted
// before the next image opens, the grouping guarantee the reassembler
// depends on.
type TileSource struct {
	fs           fsutil.FileSystem
	entries      []corpus.Entry
	channels     int
	tileH, tileW int
	pad          tilegrid.Padding

	nextEntry int
	cur       raster.Planes
	curID     string
	origins   []tilegrid.Origin
	nextTile  int
}

// NewTileSource builds a tile stream over the corpus.
func NewTileSource(fs fsutil.FileSystem, c *corpus.Corpus, channels, tileH, tileW int, pad tilegrid.Padding) *TileSource {
	return &TileSource{
		fs:       fs,
		entries:  c.Entries,
		channels: channels,
		tileH:    tileH,
		tileW:    tileW,
		pad:      pad,
	}
}

// Next returns the next tile, advancing to the next source image when the
// current one is fully emitted, and ErrExhausted after the last.
func (s *TileSource) Next(ctx context.Context) (Tile, error) {
	if err := ctx.Err(); err != nil {
		return Tile{}, err
	}
	for s.origins == nil || s.nextTile >= len(s.origins) {
		if s.nextEntry >= len(s.entries) {
			return Tile{}, ErrExhausted
		}
		if err := s.open(s.entries[s.nextEntry]); err != nil {
			return Tile{}, err
		}
		s.nextEntry++
	}

	origin := s.origins[s.nextTile]
	s.nextTile++

	input, err := s.cur.Crop(origin.Row, origin.Col, s.tileH, s.tileW)
	if err != nil {
		return Tile{}, fmt.Errorf("image %s, tile at (%d,%d): %w", s.curID, origin.Row, origin.Col, err)
	}
	return Tile{
		ID:      s.curID,
		Origin:  origin,
		SourceH: s.cur.H,
		SourceW: s.cur.W,
		Input:   input,
	}, nil
}

// open decodes one source image and computes its tiling.
func (s *TileSource) open(e corpus.Entry) error {
	img, err := imageio.LoadPlanes(s.fs, e.Image, s.channels)
	if err != nil {
		return err
	}
	origins, err := tilegrid.Tiles(img.H, img.W, s.tileH, s.tileW, s.pad)
	if err != nil {
		return fmt.Errorf("image %s: %w", e.ID, err)
	}
	s.cur = img
	s.curID = e.ID
	s.origins = origins
	s.nextTile = 0
	return nil
}
