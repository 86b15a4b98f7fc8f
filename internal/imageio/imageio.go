// Package imageio reads and writes image files as raster buffers.
package imageio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dudu/dejpeg/internal/raster"
)

// Decoder selects the image reader.
type Decoder string

const (
	// DecoderAuto reads with OpenCV and falls back to the Go decoders.
	DecoderAuto   Decoder = "auto"
	DecoderOpenCV Decoder = "opencv"
	DecoderGo     Decoder = "go"
)

// DefaultQuality is the JPEG/WebP quality used when none is given.
const DefaultQuality = 95

// ErrUnsupportedFormat is returned for file extensions no writer handles.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ParseDecoder parses a decoder name; the empty string means auto.
func ParseDecoder(s string) (Decoder, error) {
	switch d := Decoder(strings.ToLower(s)); d {
	case "":
		return DecoderAuto, nil
	case DecoderAuto, DecoderOpenCV, DecoderGo:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decoder %q (use auto, opencv or go)", s)
	}
}

// Read decodes the image at path into straight RGBA.
func Read(path string, dec Decoder) (*raster.Buffer, error) {
	switch dec {
	case DecoderOpenCV:
		return readOpenCV(path)
	case DecoderGo:
		return readGo(path)
	case DecoderAuto, "":
		b, err := readOpenCV(path)
		if err == nil {
			return b, nil
		}
		b, goErr := readGo(path)
		if goErr != nil {
			return nil, errors.Join(err, goErr)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown decoder %q", dec)
	}
}

// Write encodes b to path, choosing the format from the extension. quality
// applies to JPEG and WebP; values outside [1, 100] use DefaultQuality.
func Write(path string, b *raster.Buffer, quality int) error {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	switch format(path) {
	case "png":
		return writePNG(path, b)
	case "jpeg", "webp":
		return writeOpenCV(path, b, quality)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png"
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".webp":
		return "webp"
	default:
		return ""
	}
}

// OutputPath returns the default output name for input, e.g. photo.jpg ->
// photo_restored.png.
func OutputPath(input, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "_restored" + ext
}
