package detections

import (
	"math"

	"github.com/Tutortoise/detection-pipeline/models"
	"github.com/Tutortoise/detection-pipeline/tensor"
)

// Candidates walks the rows of a [1,N,6] detection tensor in emission order
// and yields the ones whose confidence is strictly above the threshold.
// It is single-use; call Decode again to start over.
//
//	c, err := Decode(out, 0.25)
//	for c.Next() {
//		d := c.Detection()
//	}
//	err = c.Err()
type Candidates struct {
	data      []float32
	rows      int
	next      int
	threshold float32
	current   models.Detection
	err       error
}

// Decode checks the tensor layout and returns a sequence over its rows.
// Nothing is evaluated until Next is called.
func Decode(output *tensor.Buffer, threshold float32) (*Candidates, error) {
	if output == nil {
		return nil, models.Errorf(models.ErrMalformedOutput, "no output tensor")
	}
	shape := output.Shape()
	if len(shape) != 3 {
		return nil, models.Errorf(models.ErrMalformedOutput, "output shape %v, want [1, N, %d]", shape, DetectionAttrs)
	}
	if shape[2] != DetectionAttrs {
		return nil, models.Errorf(models.ErrMalformedOutput, "output last dimension is %d, want %d", shape[2], DetectionAttrs)
	}
	if shape[1] <= 0 {
		return nil, models.Errorf(models.ErrMalformedOutput, "output has %d candidate rows", shape[1])
	}
	if shape[0] != 1 {
		return nil, models.Errorf(models.ErrMalformedOutput, "output batch is %d, want 1", shape[0])
	}
	return &Candidates{
		data:      output.Data(),
		rows:      int(shape[1]),
		threshold: threshold,
	}, nil
}

// Next advances to the next kept candidate. It returns false when the rows
// are exhausted or a malformed row is found; check Err afterwards.
func (c *Candidates) Next() bool {
	if c.err != nil {
		return false
	}
	for c.next < c.rows {
		row := c.data[c.next*DetectionAttrs : (c.next+1)*DetectionAttrs]
		idx := c.next
		c.next++

		conf := row[4]
		if !(conf > c.threshold) {
			continue
		}
		class := row[5]
		if class < 0 || math.IsNaN(float64(class)) || math.IsInf(float64(class), 0) {
			c.err = models.Errorf(models.ErrMalformedOutput, "row %d has class id %v", idx, class)
			return false
		}
		for i := 0; i < 4; i++ {
			if !validCoord(row[i]) {
				c.err = models.Errorf(models.ErrMalformedOutput, "row %d has coordinate %v", idx, row[i])
				return false
			}
		}
		c.current = models.Detection{
			BBox:       orderedBox(row[0], row[1], row[2], row[3]),
			Confidence: conf,
			ClassID:    int(class),
		}
		return true
	}
	return false
}

func (c *Candidates) Detection() models.Detection {
	return c.current
}

func (c *Candidates) Err() error {
	return c.err
}

// Collect drains the remaining candidates.
func (c *Candidates) Collect() ([]models.Detection, error) {
	var out []models.Detection
	for c.Next() {
		out = append(out, c.Detection())
	}
	return out, c.Err()
}

// DecodeAll is Decode followed by Collect.
func DecodeAll(output *tensor.Buffer, threshold float32) ([]models.Detection, error) {
	c, err := Decode(output, threshold)
	if err != nil {
		return nil, err
	}
	return c.Collect()
}

// validCoord reports whether v is finite and truncates into int32 range.
func validCoord(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && f > math.MinInt32-1 && f < math.MaxInt32+1
}

// orderedBox truncates each corner toward zero and orders the corners so
// x1 <= x2 and y1 <= y2.
func orderedBox(x1, y1, x2, y2 float32) [4]int32 {
	ix1, iy1, ix2, iy2 := int32(x1), int32(y1), int32(x2), int32(y2)
	if ix1 > ix2 {
		ix1, ix2 = ix2, ix1
	}
	if iy1 > iy2 {
		iy1, iy2 = iy2, iy1
	}
	return [4]int32{ix1, iy1, ix2, iy2}
}
