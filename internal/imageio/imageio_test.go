package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josegcpa/unet/internal/fsutil"
)

func writePNG(t *testing.T, fsys fsutil.FileSystem, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, fsys.WriteFile(path, buf.Bytes(), 0644))
}

func TestLoadPlanes(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	src.SetNRGBA(1, 1, color.NRGBA{R: 0, G: 0, B: 255, A: 255})
	writePNG(t, fsys, "/img/a.png", src)

	ps, err := LoadPlanes(fsys, "/img/a.png", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, ps.H)
	assert.Equal(t, 2, ps.W)
	assert.Equal(t, float32(1), ps.Ch[0].At(0, 0))
	assert.Equal(t, float32(1), ps.Ch[2].At(1, 1))
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	_, err := Load(fsys, "/img/missing.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/img/missing.png")
}

func TestLoadCorruptImage(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/img/bad.png", []byte("not a png"), 0644))

	_, err := Load(fsys, "/img/bad.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/img/bad.png")
}

func TestLoadLabelsBinary(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	mask := image.NewGray(image.Rect(0, 0, 3, 1))
	mask.SetGray(1, 0, color.Gray{Y: 1})
	mask.SetGray(2, 0, color.Gray{Y: 255})
	writePNG(t, fsys, "/truth/a.png", mask)

	labels, err := LoadLabels(fsys, "/truth/a.png", 2)
	require.NoError(t, err)
	// Any nonzero value is class 1 in the binary case.
	assert.Equal(t, []float32{0, 1, 1}, labels.Pix)
}

func TestLoadLabelsMulticlass(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	mask := image.NewGray(image.Rect(0, 0, 3, 1))
	mask.SetGray(1, 0, color.Gray{Y: 1})
	mask.SetGray(2, 0, color.Gray{Y: 2})
	writePNG(t, fsys, "/truth/b.png", mask)

	labels, err := LoadLabels(fsys, "/truth/b.png", 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2}, labels.Pix)
}

func TestLoadLabelsOutOfRange(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	mask := image.NewGray(image.Rect(0, 0, 1, 1))
	mask.SetGray(0, 0, color.Gray{Y: 9})
	writePNG(t, fsys, "/truth/c.png", mask)

	_, err := LoadLabels(fsys, "/truth/c.png", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside 3 classes")
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(2, 3, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	require.NoError(t, fsys.MkdirAll("/out", 0755))
	require.NoError(t, Save(fsys, "/out/pred.png", img))

	back, err := Load(fsys, "/out/pred.png")
	require.NoError(t, err)
	assert.Equal(t, img.Bounds().Dx(), back.Bounds().Dx())

	r, g, b, _ := back.At(2, 3).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(20), g>>8)
	assert.Equal(t, uint32(30), b>>8)
}

func TestSaveUnknownExtension(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	err := Save(fsys, "/out/pred.webp", img)
	assert.Error(t, err)
}

func TestSaveGrayTIFFRoundTrip(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(1, 1, color.Gray{Y: 2})

	require.NoError(t, SaveGrayTIFF(fsys, "/out/tile.tif", img))

	back, err := Load(fsys, "/out/tile.tif")
	require.NoError(t, err)
	r, _, _, _ := back.At(1, 1).RGBA()
	assert.Equal(t, uint32(2), r>>8)
}

func TestHasImageExtension(t *testing.T) {
	t.Parallel()

	assert.True(t, HasImageExtension("a.png"))
	assert.True(t, HasImageExtension("b.JPG"))
	assert.True(t, HasImageExtension("/x/y/c.tiff"))
	assert.False(t, HasImageExtension("d.txt"))
	assert.False(t, HasImageExtension("e"))
}
