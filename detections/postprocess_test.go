package detections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/detection-pipeline/models"
)

func det(x1, y1, x2, y2 int32, conf float32, class int) models.Detection {
	return models.Detection{BBox: [4]int32{x1, y1, x2, y2}, Confidence: conf, ClassID: class}
}

func TestRescale(t *testing.T) {
	in := []models.Detection{det(320, 320, 640, 640, 0.9, 1), det(-5, 10, 700, 20, 0.5, 2)}

	out := Rescale(in, 640, 640, 1280, 320)
	require.Len(t, out, 2)
	assert.Equal(t, [4]int32{640, 160, 1280, 320}, out[0].BBox)
	assert.Equal(t, [4]int32{0, 5, 1280, 10}, out[1].BBox)
	assert.Equal(t, float32(0.9), out[0].Confidence)

	assert.Equal(t, [4]int32{320, 320, 640, 640}, in[0].BBox, "input is untouched")
}

func TestRescaleIdentity(t *testing.T) {
	in := []models.Detection{det(10, 10, 50, 50, 0.9, 3)}
	assert.Equal(t, in, Rescale(in, 640, 640, 640, 640))
	assert.Empty(t, Rescale(nil, 640, 640, 100, 100))
}

func TestParseSuppression(t *testing.T) {
	for in, want := range map[string]Suppression{"": SuppressNone, "none": SuppressNone, "nms": SuppressNMS, "cluster": SuppressCluster} {
		got, err := ParseSuppression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSuppression("soft-nms")
	assert.Error(t, err)
}

func TestSuppressNoneKeepsDuplicates(t *testing.T) {
	in := []models.Detection{det(10, 10, 50, 50, 0.9, 0), det(11, 11, 51, 51, 0.8, 0)}
	assert.Equal(t, in, Suppress(in, SuppressNone, IouThreshold))
}

func TestNMSPerClassKeepsEmissionOrder(t *testing.T) {
	in := []models.Detection{
		det(11, 11, 51, 51, 0.6, 0),
		det(10, 10, 50, 50, 0.9, 0),
		det(10, 10, 50, 50, 0.7, 1),
		det(200, 200, 240, 240, 0.4, 0),
	}

	out := Suppress(in, SuppressNMS, IouThreshold)
	assert.Equal(t, []models.Detection{in[1], in[2], in[3]}, out)
}

func TestClusterMergesOverlappingBoxes(t *testing.T) {
	in := []models.Detection{
		det(10, 10, 50, 50, 0.6, 0),
		det(12, 8, 52, 49, 0.9, 0),
		det(400, 400, 450, 450, 0.5, 0),
	}

	out := Suppress(in, SuppressCluster, IouThreshold)
	require.Len(t, out, 2)
	assert.Equal(t, det(10, 8, 52, 50, 0.9, 0), out[0])
	assert.Equal(t, in[2], out[1])
}

func TestClusterKeepsClassesApart(t *testing.T) {
	in := []models.Detection{det(10, 10, 50, 50, 0.6, 0), det(10, 10, 50, 50, 0.9, 1)}

	out := Suppress(in, SuppressCluster, IouThreshold)
	assert.Len(t, out, 2)
}

func TestCalculateIOU(t *testing.T) {
	assert.InDelta(t, 1.0, calculateIOU([4]int32{0, 0, 10, 10}, [4]int32{0, 0, 10, 10}), 1e-9)
	assert.InDelta(t, 0.0, calculateIOU([4]int32{0, 0, 10, 10}, [4]int32{20, 20, 30, 30}), 1e-9)
	assert.InDelta(t, 25.0/175.0, calculateIOU([4]int32{0, 0, 10, 10}, [4]int32{5, 5, 15, 15}), 1e-9)
}
