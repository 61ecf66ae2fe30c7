package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josegcpa/unet/internal/corpus"
	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/testutil"
	"github.com/josegcpa/unet/internal/tilegrid"
)

func TestTileSourceGroupsTilesByImage(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()

	// Two 8x8 sources tiled 4x4 SAME: four tiles each, grouped per image.
	testutil.WriteImagePNG(t, fs, "a.png", testutil.GradientPlanes(8, 8, 3))
	testutil.WriteImagePNG(t, fs, "b.png", testutil.GradientPlanes(8, 8, 3))
	c := &corpus.Corpus{
		Entries: []corpus.Entry{
			{ID: "a", Image: "a.png"},
			{ID: "b", Image: "b.png"},
		},
		Desc: "test",
	}

	src := NewTileSource(fs, c, 3, 4, 4, tilegrid.PaddingSame)
	ctx := context.Background()

	var ids []string
	var origins []tilegrid.Origin
	for {
		tile, err := src.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 8, tile.SourceH)
		assert.Equal(t, 8, tile.SourceW)
		assert.Equal(t, 4, tile.Input.H)
		assert.Equal(t, 4, tile.Input.W)
		ids = append(ids, tile.ID)
		origins = append(origins, tile.Origin)
	}

	require.Len(t, ids, 8)
	assert.Equal(t, []string{"a", "a", "a", "a", "b", "b", "b", "b"}, ids)

	wantGrid := []tilegrid.Origin{{Row: 0, Col: 0}, {Row: 0, Col: 4}, {Row: 4, Col: 0}, {Row: 4, Col: 4}}
	if diff := cmp.Diff(append(wantGrid, wantGrid...), origins); diff != "" {
		t.Errorf("origins mismatch (-want +got):\n%s", diff)
	}
}

func TestTileSourceTileContents(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()

	img := testutil.GradientPlanes(8, 8, 1)
	testutil.WriteImagePNG(t, fs, "a.png", img)
	c := &corpus.Corpus{Entries: []corpus.Entry{{ID: "a", Image: "a.png"}}, Desc: "test"}

	src := NewTileSource(fs, c, 1, 4, 4, tilegrid.PaddingSame)
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)

	want, err := img.Crop(0, 0, 4, 4)
	require.NoError(t, err)
	// PNG encode/decode quantizes to 8 bits; GradientPlanes values are exact
	// multiples of 1/255 so the round trip is lossless.
	testutil.RequirePlanesEqual(t, want, first.Input, 0)
}

func TestTileSourceUndecodableImage(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("junk.png", []byte("not a png"), 0644))
	c := &corpus.Corpus{Entries: []corpus.Entry{{ID: "junk", Image: "junk.png"}}, Desc: "test"}

	src := NewTileSource(fs, c, 3, 4, 4, tilegrid.PaddingSame)
	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestTileSourceEmptyCorpus(t *testing.T) {
	t.Parallel()
	src := NewTileSource(fsutil.NewMemoryFileSystem(), &corpus.Corpus{}, 3, 4, 4, tilegrid.PaddingSame)
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}
