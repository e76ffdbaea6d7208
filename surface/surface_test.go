package surface

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/detection-pipeline/models"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestWriteAndDecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Write(solid(8, 6, color.NRGBA{R: 200, G: 10, B: 30, A: 255}), path))

	img, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
	r, g, b, _ := img.At(3, 3).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	assert.Equal(t, uint32(10), g>>8)
	assert.Equal(t, uint32(30), b>>8)
}

func TestDecodeMissingFile(t *testing.T) {
	_, err := Decode(filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, models.ErrImageLoad)
}

func TestDecodeGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := Decode(path)
	assert.ErrorIs(t, err, models.ErrImageLoad)

	_, err = DecodeBytes([]byte("still not an image"))
	assert.ErrorIs(t, err, models.ErrImageLoad)
}

func TestDecodeBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(3, 2, color.NRGBA{A: 255})))

	img, err := DecodeBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
}

func TestCheckFrame(t *testing.T) {
	assert.ErrorIs(t, CheckFrame(nil), models.ErrImageLoad)
	assert.ErrorIs(t, CheckFrame(image.NewNRGBA(image.Rect(0, 0, 0, 5))), models.ErrImageLoad)
	assert.NoError(t, CheckFrame(image.NewNRGBA(image.Rect(0, 0, 1, 1))))
}

func TestWriteUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "out.jpg")
	err := Write(solid(2, 2, color.NRGBA{A: 255}), path)
	assert.ErrorIs(t, err, models.ErrWrite)
}

func TestWriteUnknownExtension(t *testing.T) {
	err := Write(solid(2, 2, color.NRGBA{A: 255}), filepath.Join(t.TempDir(), "out.xyz"))
	assert.ErrorIs(t, err, models.ErrWrite)
}

func TestResizeLeavesSourceAlone(t *testing.T) {
	src := solid(4, 4, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	dst := Resize(src, 2, 2)
	assert.Equal(t, image.Rect(0, 0, 2, 2), dst.Bounds())
	assert.Equal(t, image.Rect(0, 0, 4, 4), src.Bounds())
}
