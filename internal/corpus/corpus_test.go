package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josegcpa/unet/internal/fsutil"
)

func seedFiles(t *testing.T, fsys fsutil.FileSystem, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, fsys.WriteFile(p, []byte{0x89}, 0644))
	}
}

func TestFromDirectoriesPairs(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	seedFiles(t, fsys,
		"/data/a.png", "/data/b.jpg", "/data/notes.txt",
		"/truth/a.png", "/truth/b.png",
		"/weights/a.png",
	)

	c, err := FromDirectories(fsys, "/data", "/truth", "/weights")
	require.NoError(t, err)
	require.Len(t, c.Entries, 2)

	assert.Equal(t, "a", c.Entries[0].ID)
	assert.Equal(t, "/data/a.png", c.Entries[0].Image)
	assert.Equal(t, "/truth/a.png", c.Entries[0].Mask)
	assert.Equal(t, "/weights/a.png", c.Entries[0].Weight)

	// b's mask has a different extension; weight is absent and stays empty.
	assert.Equal(t, "/truth/b.png", c.Entries[1].Mask)
	assert.Equal(t, "", c.Entries[1].Weight)

	assert.Equal(t, "dir:/data", c.Desc)
}

func TestFromDirectoriesMissingMaskFails(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	seedFiles(t, fsys, "/data/a.png", "/data/b.png", "/truth/a.png")

	_, err := FromDirectories(fsys, "/data", "/truth", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/data/b.png")
}

func TestFromDirectoriesNoMaskDir(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	seedFiles(t, fsys, "/data/a.png")

	c, err := FromDirectories(fsys, "/data", "", "")
	require.NoError(t, err)
	assert.Equal(t, "", c.Entries[0].Mask)
}

func TestFromDirectoriesEmpty(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	seedFiles(t, fsys, "/data/readme.md")

	_, err := FromDirectories(fsys, "/data", "", "")
	assert.Error(t, err)
}

func TestTrial(t *testing.T) {
	t.Parallel()

	c := &Corpus{Entries: []Entry{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	c.Trial(2)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "a", c.Entries[0].ID)

	// A cap beyond the corpus keeps everything.
	c.Trial(10)
	assert.Equal(t, 2, c.Len())

	c.Trial(0)
	assert.Equal(t, 2, c.Len())
}

func TestFromManifest(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	manifest := "id,path,qc\n" +
		"s1,/slides/x.png,1\n" +
		"s2,/slides/y.png,0\n" +
		"s3,/slides/z.png,1\n" +
		"s4,/slides/x.png,1\n"
	require.NoError(t, fsys.WriteFile("/qc.csv", []byte(manifest), 0644))

	c, err := FromManifest(fsys, "/qc.csv")
	require.NoError(t, err)

	require.Len(t, c.Entries, 2)
	assert.Equal(t, "/slides/x.png", c.Entries[0].Image)
	assert.Equal(t, "/slides/z.png", c.Entries[1].Image)
	assert.Equal(t, "x", c.Entries[0].ID)
	assert.Equal(t, "csv:/qc.csv", c.Desc)
}

func TestFromManifestMalformedRow(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	manifest := "id,path,qc\n" +
		"s1,/slides/x.png\n"
	require.NoError(t, fsys.WriteFile("/qc.csv", []byte(manifest), 0644))

	_, err := FromManifest(fsys, "/qc.csv")
	assert.Error(t, err)
}

func TestFromManifestNothingQualifies(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	manifest := "id,path,qc\ns1,/slides/x.png,0\n"
	require.NoError(t, fsys.WriteFile("/qc.csv", []byte(manifest), 0644))

	_, err := FromManifest(fsys, "/qc.csv")
	assert.Error(t, err)
}

func TestFromManifestMissingFile(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	_, err := FromManifest(fsys, "/nope.csv")
	assert.Error(t, err)
}
