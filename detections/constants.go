package detections

const (
	InputWidth    = 640
	InputHeight   = 640
	ConfThreshold = 0.25
	IouThreshold  = 0.45

	// DetectionAttrs is the record width of one candidate:
	// x1, y1, x2, y2, confidence, class id.
	DetectionAttrs = 6

	DefaultClusterSize = 50.0
)
