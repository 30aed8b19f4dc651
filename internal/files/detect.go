package files

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fruitsalade/filecore/internal/gallery"
	"github.com/fruitsalade/filecore/internal/models"
)

// sniffLen is how much of an upload is inspected for MIME magic numbers
// and JPEG EXIF segments.
const sniffLen = 256 * 1024

const octetStream = "application/octet-stream"

// received is upload content read in full. Its length, not the size the
// caller declared, is what gets checked and recorded.
type received struct {
	data []byte
	head []byte
}

func (r *received) size() int64 { return int64(len(r.data)) }

func (r *received) reader() io.Reader { return bytes.NewReader(r.data) }

// receive reads an upload, failing as soon as it grows past maxSize.
// A zero maxSize reads without a bound.
func receive(r io.Reader, maxSize int64) (*received, error) {
	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: file size exceeds limit %d", models.ErrInvalidArgument, maxSize)
	}
	return &received{data: data, head: data[:min(len(data), sniffLen)]}, nil
}

// detectMimeType prefers an explicit type, then the filename extension,
// then the content signature.
func detectMimeType(declared, filename string, head []byte) string {
	for _, candidate := range []string{declared, mime.TypeByExtension(models.Extension(filename))} {
		if mt := normalizeMime(candidate); mt != "" && mt != octetStream {
			return mt
		}
	}
	if len(head) > 0 {
		if mt := normalizeMime(mimetype.Detect(head).String()); mt != "" {
			return mt
		}
	}
	return octetStream
}

func normalizeMime(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// imageMetadata reads EXIF and dimensions from the head of an image.
func imageMetadata(head []byte) *gallery.ImageInfo {
	info := gallery.ExtractExif(bytes.NewReader(head))
	if info.Width == 0 || info.Height == 0 {
		if w, h, err := gallery.ImageDimensions(bytes.NewReader(head)); err == nil {
			info.Width, info.Height = w, h
		}
	}
	if info.Width == 0 || info.Height == 0 {
		return nil
	}
	return info
}
