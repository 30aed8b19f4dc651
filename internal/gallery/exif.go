package gallery

import (
	"io"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// ImageInfo holds the EXIF fields recorded in an uploaded image's metadata.
type ImageInfo struct {
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	DateTaken   *time.Time `json:"date_taken,omitempty"`
	Orientation int        `json:"orientation"`
}

// ExtractExif reads EXIF data from an image reader. Images without EXIF
// yield an ImageInfo with orientation 1.
func ExtractExif(r io.Reader) *ImageInfo {
	info := &ImageInfo{Orientation: 1}
	x, err := exif.Decode(r)
	if err != nil {
		return info
	}

	info.CameraMake = tagString(x, exif.Make)
	info.CameraModel = tagString(x, exif.Model)
	if dt, err := x.DateTime(); err == nil {
		info.DateTaken = &dt
	}
	if orient, err := x.Get(exif.Orientation); err == nil {
		if v, err := orient.Int(0); err == nil && v >= 1 && v <= 8 {
			info.Orientation = v
		}
	}
	if pw, err := x.Get(exif.PixelXDimension); err == nil {
		if v, err := pw.Int(0); err == nil {
			info.Width = v
		}
	}
	if ph, err := x.Get(exif.PixelYDimension); err == nil {
		if v, err := ph.Int(0); err == nil {
			info.Height = v
		}
	}
	return info
}

// Orientation returns the EXIF orientation (1-8), or 1 when absent.
func Orientation(r io.Reader) int {
	return ExtractExif(r).Orientation
}

func tagString(x *exif.Exif, f exif.FieldName) string {
	tag, err := x.Get(f)
	if err != nil {
		return ""
	}
	if tag.Format() == tiff.StringVal {
		s, _ := tag.StringVal()
		return s
	}
	return tag.String()
}
