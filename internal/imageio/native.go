package imageio

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"os"

	// Registered for image.Decode.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dudu/dejpeg/internal/raster"
)

func readGo(path string) (*raster.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return raster.FromImage(img), nil
}

func writePNG(path string, b *raster.Buffer) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := png.Encode(w, b.NRGBA()); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return w.Flush()
}
