package features

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	// decoders registered with image.Decode
	_ "image/jpeg"
	_ "image/png"
)

// Channels is the fixed channel count of a decoded Image (R, G, B).
const Channels = 3

// DefaultMaxPixels bounds the decoded size of an upload (4096x4096).
const DefaultMaxPixels = 4096 * 4096

// ErrInvalidImage is returned when an upload cannot be decoded.
var ErrInvalidImage = errors.New("invalid image")

// Image is a decoded pixel array in R, G, B order, row-major.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// DecodeImage decodes a JPEG or PNG payload into an RGB pixel array. The
// header is checked first so images above maxPixels are rejected before any
// pixel buffer is allocated; maxPixels <= 0 selects DefaultMaxPixels.
func DecodeImage(data []byte, maxPixels int) (*Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty bounds", ErrInvalidImage)
	}

	img := &Image{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    make([]byte, 0, b.Dx()*b.Dy()*Channels),
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(src.At(x, y)).(color.RGBA)
			img.Pix = append(img.Pix, c.R, c.G, c.B)
		}
	}
	return img, nil
}
