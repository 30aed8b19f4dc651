package gallery

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filecore/internal/models"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestGenerateThumbnailFlattensAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 800, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 800; x++ {
			if x < 400 {
				src.Set(x, y, color.NRGBA{R: 255, A: 255})
			}
		}
	}

	thumb, err := GenerateThumbnail(bytes.NewReader(encodePNG(t, src)), 200, 200, 90)
	require.NoError(t, err)
	assert.Equal(t, 200, thumb.Width)
	assert.Equal(t, 100, thumb.Height)

	out, format, err := image.Decode(bytes.NewReader(thumb.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.LessOrEqual(t, out.Bounds().Dx(), 200)
	assert.LessOrEqual(t, out.Bounds().Dy(), 200)

	// Transparent half becomes white, opaque half stays red.
	r, g, b, a := out.At(180, 50).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))

	r, g, _, _ = out.At(20, 50).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
}

func TestGenerateThumbnailDoesNotUpscale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 30))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))

	thumb, err := GenerateThumbnail(&buf, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 40, thumb.Width)
	assert.Equal(t, 30, thumb.Height)
}

func TestGenerateThumbnailRejectsNonImage(t *testing.T) {
	_, err := GenerateThumbnail(strings.NewReader("%PDF-1.7\n..."), 100, 100, 80)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestApplyOrientation(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 30, 10))
	for _, tc := range []struct {
		orientation int
		w, h        int
	}{
		{1, 30, 10},
		{3, 30, 10},
		{6, 10, 30},
		{8, 10, 30},
	} {
		b := applyOrientation(src, tc.orientation).Bounds()
		assert.Equal(t, tc.w, b.Dx(), "orientation %d", tc.orientation)
		assert.Equal(t, tc.h, b.Dy(), "orientation %d", tc.orientation)
	}
}

func TestExtractExifWithoutExif(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	info := ExtractExif(bytes.NewReader(encodePNG(t, src)))
	assert.Equal(t, 1, info.Orientation)
	assert.Empty(t, info.CameraMake)
	assert.Nil(t, info.DateTaken)

	w, h, err := ImageDimensions(bytes.NewReader(encodePNG(t, src)))
	require.NoError(t, err)
	assert.Equal(t, 4, w)
	assert.Equal(t, 4, h)
}
