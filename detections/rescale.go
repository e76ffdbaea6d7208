package detections

import "github.com/Tutortoise/detection-pipeline/models"

// Rescale maps boxes from a fromW x fromH coordinate space (the model input)
// to toW x toH (the original image), truncating and clamping to the
// destination bounds. The input slice is not modified.
func Rescale(dets []models.Detection, fromW, fromH, toW, toH int) []models.Detection {
	if len(dets) == 0 {
		return dets
	}
	out := make([]models.Detection, len(dets))
	if fromW <= 0 || fromH <= 0 {
		copy(out, dets)
		return out
	}

	scaleX := float32(toW) / float32(fromW)
	scaleY := float32(toH) / float32(fromH)
	for i, d := range dets {
		out[i] = d
		out[i].BBox = [4]int32{
			clamp32(int32(float32(d.BBox[0])*scaleX), 0, int32(toW)),
			clamp32(int32(float32(d.BBox[1])*scaleY), 0, int32(toH)),
			clamp32(int32(float32(d.BBox[2])*scaleX), 0, int32(toW)),
			clamp32(int32(float32(d.BBox[3])*scaleY), 0, int32(toH)),
		}
	}
	return out
}

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
