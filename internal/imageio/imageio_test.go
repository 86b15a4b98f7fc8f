package imageio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/dudu/dejpeg/internal/raster"
)

func pattern(w, h int, alpha uint8) *raster.Buffer {
	b := raster.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b.SetRGBA(x, y, uint8(x*7), uint8(y*11), uint8(x+y), alpha)
		}
	}
	return b
}

func TestParseDecoder(t *testing.T) {
	for in, want := range map[string]Decoder{"": DecoderAuto, "auto": DecoderAuto, "OpenCV": DecoderOpenCV, "go": DecoderGo} {
		got, err := ParseDecoder(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseDecoder("magick")
	assert.Error(t, err)
}

func TestPNGRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	src := pattern(37, 21, 200)

	require.NoError(t, Write(path, src, 0))
	got, err := Read(path, DecoderGo)
	require.NoError(t, err)
	assert.Equal(t, src.Width, got.Width)
	assert.Equal(t, src.Height, got.Height)
	assert.Equal(t, src.Pix, got.Pix)
}

func TestPNGWriteFromView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "view.png")
	src := pattern(40, 40, 255)
	view := src.Sub(src.Bounds().Inset(5))

	require.NoError(t, Write(path, view, 0))
	got, err := Read(path, DecoderGo)
	require.NoError(t, err)
	assert.Equal(t, view.Clone().Pix, got.Pix)
}

func TestReadBMP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.bmp")
	src := pattern(16, 9, 255)

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(f, src.NRGBA()))
	require.NoError(t, f.Close())

	got, err := Read(path, DecoderGo)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, got.Pix)
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "missing.png"), DecoderGo)
	assert.ErrorIs(t, err, os.ErrNotExist)

	junk := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(junk, []byte("not an image"), 0o644))
	_, err = Read(junk, DecoderGo)
	assert.Error(t, err)

	_, err = Read(junk, Decoder("magick"))
	assert.Error(t, err)
}

func TestWriteUnsupported(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "out.gif"), pattern(4, 4, 255), 90)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "dir/photo_restored.png", OutputPath("dir/photo.jpg", ""))
	assert.Equal(t, "photo_restored.jpg", OutputPath("photo.jpeg", "jpg"))
	assert.Equal(t, "a.b_restored.webp", OutputPath("a.b.png", ".webp"))
}
