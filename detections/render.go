package detections

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Tutortoise/detection-pipeline/models"
	"github.com/Tutortoise/detection-pipeline/surface"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// RenderStyle fixes the stroke and label appearance.
type RenderStyle struct {
	BoxColor   color.Color
	BoxWidth   float64
	LabelColor color.Color
	FontSize   float64
	// LabelOffset is how far above the box's top edge the label baseline sits.
	LabelOffset float64
}

func DefaultRenderStyle() RenderStyle {
	return RenderStyle{
		BoxColor:    color.RGBA{G: 255, A: 255},
		BoxWidth:    2,
		LabelColor:  color.RGBA{B: 255, A: 255},
		FontSize:    12,
		LabelOffset: 5,
	}
}

type Renderer struct {
	style  RenderStyle
	labels []string
}

// NewRenderer returns a renderer. labels, if given, maps class ids to names.
func NewRenderer(style RenderStyle, labels []string) *Renderer {
	return &Renderer{style: style, labels: labels}
}

// Label is the text drawn above a box, e.g. "cls 3:0.90" or
// "cls 2 car:0.90" when a name is known.
func (r *Renderer) Label(d models.Detection) string {
	if d.ClassID >= 0 && d.ClassID < len(r.labels) && r.labels[d.ClassID] != "" {
		return fmt.Sprintf("cls %d %s:%.2f", d.ClassID, r.labels[d.ClassID], d.Confidence)
	}
	return fmt.Sprintf("cls %d:%.2f", d.ClassID, d.Confidence)
}

// Draw returns a copy of img with every detection outlined and labelled.
// img itself is left untouched.
func (r *Renderer) Draw(img image.Image, dets []models.Detection) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: r.style.FontSize}))

	for _, d := range dets {
		x1, y1 := float64(d.BBox[0]), float64(d.BBox[1])
		w, h := float64(d.BBox[2]-d.BBox[0]), float64(d.BBox[3]-d.BBox[1])

		dc.SetColor(r.style.BoxColor)
		dc.SetLineWidth(r.style.BoxWidth)
		dc.DrawRectangle(x1, y1, w, h)
		dc.Stroke()

		dc.SetColor(r.style.LabelColor)
		dc.DrawString(r.Label(d), x1, y1-r.style.LabelOffset)
	}
	return dc.Image()
}

// Render draws dets onto img and writes the result to path.
func (r *Renderer) Render(img image.Image, dets []models.Detection, path string) (image.Image, error) {
	out := r.Draw(img, dets)
	if err := surface.Write(out, path); err != nil {
		return nil, err
	}
	return out, nil
}
