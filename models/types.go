package models

import (
	"image"
	"time"
)

// Detection is one kept candidate. BBox is x1, y1, x2, y2 in pixels.
type Detection struct {
	BBox       [4]int32
	Confidence float32
	ClassID    int
}

// Rect returns the box as an image.Rectangle.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(int(d.BBox[0]), int(d.BBox[1]), int(d.BBox[2]), int(d.BBox[3]))
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Render      time.Duration
	Total       time.Duration
}
