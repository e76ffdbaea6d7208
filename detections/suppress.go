package detections

import (
	"fmt"
	"math"
	"sort"

	"github.com/Tutortoise/detection-pipeline/models"
)

// Suppression selects how overlapping detections are reduced after decoding.
type Suppression string

const (
	SuppressNone    Suppression = "none"
	SuppressNMS     Suppression = "nms"
	SuppressCluster Suppression = "cluster"
)

func ParseSuppression(s string) (Suppression, error) {
	switch Suppression(s) {
	case "", SuppressNone:
		return SuppressNone, nil
	case SuppressNMS, SuppressCluster:
		return Suppression(s), nil
	default:
		return "", fmt.Errorf("unknown suppression mode %q (want none, nms or cluster)", s)
	}
}

// Suppress applies mode to dets. SuppressNone returns dets unchanged.
func Suppress(dets []models.Detection, mode Suppression, iouThreshold float64) []models.Detection {
	switch mode {
	case SuppressNMS:
		return nonMaxSuppression(dets, iouThreshold)
	case SuppressCluster:
		return clusterBoxes(dets, iouThreshold)
	default:
		return dets
	}
}

// nonMaxSuppression is greedy, per class. Survivors keep emission order.
func nonMaxSuppression(dets []models.Detection, iouThreshold float64) []models.Detection {
	if len(dets) < 2 {
		return dets
	}

	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Confidence > dets[order[b]].Confidence
	})

	suppressed := make([]bool, len(dets))
	for i, oi := range order {
		if suppressed[oi] {
			continue
		}
		for _, oj := range order[i+1:] {
			if suppressed[oj] || dets[oj].ClassID != dets[oi].ClassID {
				continue
			}
			if calculateIOU(dets[oi].BBox, dets[oj].BBox) > iouThreshold {
				suppressed[oj] = true
			}
		}
	}

	out := make([]models.Detection, 0, len(dets))
	for i, d := range dets {
		if !suppressed[i] {
			out = append(out, d)
		}
	}
	return out
}

// clusterBoxes groups nearby boxes of the same class with DBSCAN over their
// corners and replaces each group with its enclosing box. Noise points that
// overlap a cluster member by more than iouThreshold join that cluster.
func clusterBoxes(dets []models.Detection, iouThreshold float64) []models.Detection {
	if len(dets) == 0 {
		return nil
	}

	byClass := make(map[int][]models.Detection)
	var classes []int
	for _, d := range dets {
		if _, ok := byClass[d.ClassID]; !ok {
			classes = append(classes, d.ClassID)
		}
		byClass[d.ClassID] = append(byClass[d.ClassID], d)
	}

	var out []models.Detection
	for _, class := range classes {
		out = append(out, clusterClass(byClass[class], iouThreshold)...)
	}
	return out
}

func clusterClass(dets []models.Detection, iouThreshold float64) []models.Detection {
	medianSize := calculateMedianSize(dets)
	eps := math.Max(medianSize, DefaultClusterSize) * 0.5
	minPoints := 1
	if len(dets) > 3 {
		minPoints = 2
	}

	points := make([][]float64, len(dets))
	for i, det := range dets {
		points[i] = []float64{
			float64(det.BBox[0]),
			float64(det.BBox[1]),
			float64(det.BBox[2]),
			float64(det.BBox[3]),
		}
	}

	clusters := dbscan(points, eps, minPoints)
	return processClusters(dets, clusters, iouThreshold)
}

func calculateMedianSize(dets []models.Detection) float64 {
	if len(dets) == 0 {
		return DefaultClusterSize
	}
	sizes := make([]float64, len(dets))
	for i, det := range dets {
		width := float64(det.BBox[2] - det.BBox[0])
		height := float64(det.BBox[3] - det.BBox[1])
		sizes[i] = math.Sqrt(width * height)
	}
	sort.Float64s(sizes)
	return sizes[len(sizes)/2]
}

func processClusters(dets []models.Detection, clusters []int, iouThreshold float64) []models.Detection {
	members := make(map[int][]int)
	var clusterOrder []int
	var noise []int

	for i, cluster := range clusters {
		if cluster == -1 {
			noise = append(noise, i)
			continue
		}
		if _, ok := members[cluster]; !ok {
			clusterOrder = append(clusterOrder, cluster)
		}
		members[cluster] = append(members[cluster], i)
	}

	var final []models.Detection
	for _, i := range noise {
		merged := false
		for _, cluster := range clusterOrder {
			for _, j := range members[cluster] {
				if calculateIOU(dets[i].BBox, dets[j].BBox) > iouThreshold {
					members[cluster] = append(members[cluster], i)
					merged = true
					break
				}
			}
			if merged {
				break
			}
		}
		if !merged {
			final = append(final, dets[i])
		}
	}

	for _, cluster := range clusterOrder {
		final = append(final, mergeDetections(dets, members[cluster]))
	}
	return final
}

func mergeDetections(dets []models.Detection, idx []int) models.Detection {
	result := dets[idx[0]]
	for _, i := range idx[1:] {
		box := dets[i].BBox
		result.BBox[0] = min32(result.BBox[0], box[0])
		result.BBox[1] = min32(result.BBox[1], box[1])
		result.BBox[2] = max32(result.BBox[2], box[2])
		result.BBox[3] = max32(result.BBox[3], box[3])
		if dets[i].Confidence > result.Confidence {
			result.Confidence = dets[i].Confidence
		}
	}
	return result
}

func calculateIOU(box1, box2 [4]int32) float64 {
	x1 := math.Max(float64(box1[0]), float64(box2[0]))
	y1 := math.Max(float64(box1[1]), float64(box2[1]))
	x2 := math.Min(float64(box1[2]), float64(box2[2]))
	y2 := math.Min(float64(box1[3]), float64(box2[3]))

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := float64(box1[2]-box1[0]) * float64(box1[3]-box1[1])
	area2 := float64(box2[2]-box2[0]) * float64(box2[3]-box2[1])
	union := area1 + area2 - intersection

	return intersection / union
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func dbscan(points [][]float64, eps float64, minPoints int) []int {
	n := len(points)
	clusters := make([]int, n)
	for i := range clusters {
		clusters[i] = -1
	}

	currentCluster := 0
	for i := 0; i < n; i++ {
		if clusters[i] != -1 {
			continue
		}

		neighbors := getNeighbors(points, i, eps)
		if len(neighbors) < minPoints {
			continue
		}

		clusters[i] = currentCluster
		expandCluster(points, clusters, neighbors, currentCluster, eps, minPoints)
		currentCluster++
	}

	return clusters
}

func getNeighbors(points [][]float64, pointIdx int, eps float64) []int {
	var neighbors []int
	for i := range points {
		if distance(points[pointIdx], points[i]) <= eps {
			neighbors = append(neighbors, i)
		}
	}
	return neighbors
}

func expandCluster(points [][]float64, clusters []int, neighbors []int, cluster int, eps float64, minPoints int) {
	for i := 0; i < len(neighbors); i++ {
		pointIdx := neighbors[i]
		if clusters[pointIdx] == -1 {
			clusters[pointIdx] = cluster
			newNeighbors := getNeighbors(points, pointIdx, eps)
			if len(newNeighbors) >= minPoints {
				neighbors = append(neighbors, newNeighbors...)
			}
		}
	}
}

func distance(p1, p2 []float64) float64 {
	sum := 0.0
	for i := range p1 {
		diff := p1[i] - p2[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
