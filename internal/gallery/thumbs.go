// Package gallery renders image thumbnails.
package gallery

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"time"

	"github.com/disintegration/imaging"

	"github.com/fruitsalade/filecore/internal/metrics"
	"github.com/fruitsalade/filecore/internal/models"
)

const (
	DefaultThumbSize    = 300
	DefaultThumbQuality = 85
)

// Thumbnail is an encoded JPEG preview.
type Thumbnail struct {
	Data   []byte
	Width  int
	Height int
}

// GenerateThumbnail decodes an image, applies its EXIF orientation, fits it
// within width x height without upscaling, flattens any transparency onto
// white and encodes it as JPEG. Undecodable input wraps
// models.ErrInvalidArgument.
func GenerateThumbnail(r io.Reader, width, height, quality int) (*Thumbnail, error) {
	start := time.Now()
	thumb, err := generate(r, width, height, quality)
	metrics.RecordThumbnail(time.Since(start), err == nil)
	return thumb, err
}

func generate(r io.Reader, width, height, quality int) (*Thumbnail, error) {
	if width <= 0 {
		width = DefaultThumbSize
	}
	if height <= 0 {
		height = DefaultThumbSize
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultThumbQuality
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", models.ErrInvalidArgument, err)
	}
	img = applyOrientation(img, Orientation(bytes.NewReader(data)))

	fitted := imaging.Fit(img, width, height, imaging.Lanczos)
	b := fitted.Bounds()
	flat := imaging.New(b.Dx(), b.Dy(), color.White)
	flat = imaging.Overlay(flat, fitted, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return &Thumbnail{Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// applyOrientation transforms an image according to EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// ImageDimensions decodes an image just enough to get its dimensions.
func ImageDimensions(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
