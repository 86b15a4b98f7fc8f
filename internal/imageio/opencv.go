package imageio

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/dudu/dejpeg/internal/raster"
)

// readOpenCV decodes with imread, keeping alpha and reducing 16-bit images
// to 8 bits.
func readOpenCV(path string) (*raster.Buffer, error) {
	img := gocv.IMRead(path, gocv.IMReadUnchanged)
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("failed to decode %s with OpenCV", path)
	}

	src := img
	switch img.Type() {
	case gocv.MatTypeCV16UC1, gocv.MatTypeCV16UC3, gocv.MatTypeCV16UC4:
		eight := gocv.NewMat()
		defer eight.Close()
		img.ConvertToWithParams(&eight, eightBit(img.Channels()), 1.0/257.0, 0)
		src = eight
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
	default:
		return nil, fmt.Errorf("%s: unsupported pixel type %v", path, img.Type())
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	switch src.Channels() {
	case 1:
		gocv.CvtColor(src, &rgba, gocv.ColorGrayToBGRA)
	case 3:
		gocv.CvtColor(src, &rgba, gocv.ColorBGRToRGBA)
	case 4:
		gocv.CvtColor(src, &rgba, gocv.ColorBGRAToRGBA)
	}

	return raster.FromRGBA(rgba.Cols(), rgba.Rows(), rgba.ToBytes())
}

func eightBit(channels int) gocv.MatType {
	switch channels {
	case 1:
		return gocv.MatTypeCV8UC1
	case 3:
		return gocv.MatTypeCV8UC3
	default:
		return gocv.MatTypeCV8UC4
	}
}

// writeOpenCV encodes JPEG (alpha dropped) or WebP (alpha kept when present).
func writeOpenCV(path string, b *raster.Buffer, quality int) error {
	pix := b.Pix
	if !b.Packed() {
		pix = b.Clone().Pix
	}
	rgba, err := gocv.NewMatFromBytes(b.Height, b.Width, gocv.MatTypeCV8UC4, pix)
	if err != nil {
		return fmt.Errorf("failed to wrap pixels: %w", err)
	}
	defer rgba.Close()

	out := gocv.NewMat()
	defer out.Close()

	params := []int{int(gocv.IMWriteJpegQuality), quality}
	if format(path) == "webp" {
		params = []int{int(gocv.IMWriteWebpQuality), quality}
	}
	if format(path) == "webp" && b.HasAlpha() {
		gocv.CvtColor(rgba, &out, gocv.ColorRGBAToBGRA)
	} else {
		gocv.CvtColor(rgba, &out, gocv.ColorRGBAToBGR)
	}

	if !gocv.IMWriteWithParams(path, out, params) {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}
