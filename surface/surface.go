// Package surface decodes, resizes and writes images.
package surface

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"github.com/Tutortoise/detection-pipeline/models"
)

// Decode opens and decodes the image at path. EXIF orientation is applied so
// boxes line up with what a viewer shows.
func Decode(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, models.NewError(models.ErrImageLoad, fmt.Sprintf("could not load image at %s", path), err)
	}
	if err := CheckFrame(img); err != nil {
		return nil, err
	}
	return img, nil
}

// DecodeBytes decodes an in-memory image.
func DecodeBytes(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, models.NewError(models.ErrImageLoad, "failed to decode image", err)
	}
	if err := CheckFrame(img); err != nil {
		return nil, err
	}
	return img, nil
}

// CheckFrame fails with ErrImageLoad for a nil or zero-sized image.
func CheckFrame(img image.Image) error {
	if img == nil {
		return models.Errorf(models.ErrImageLoad, "no image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return models.Errorf(models.ErrImageLoad, "image has zero dimensions %dx%d", b.Dx(), b.Dy())
	}
	return nil
}

// Resize returns a new w x h image using bilinear interpolation. The source
// is not modified.
func Resize(img image.Image, w, h int) *image.NRGBA {
	return imaging.Resize(img, w, h, imaging.Linear)
}

// Write encodes img in the format implied by path's extension.
func Write(img image.Image, path string) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(95)); err != nil {
		return models.NewError(models.ErrWrite, fmt.Sprintf("could not write image to %s", path), err)
	}
	return nil
}

// EncodeJPEG writes img to w as JPEG.
func EncodeJPEG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return models.NewError(models.ErrWrite, "encode jpeg", err)
	}
	return nil
}
