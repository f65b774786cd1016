package detector

import (
	"cmp"
	"slices"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// computeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func computeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	intersection := (x2 - x1) * (y2 - y1)

	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// dropDuplicates removes detections that overlap a higher-scoring detection by at least
// constants.DuplicateIoU. Faces without a region are always kept. The result keeps detection order.
func dropDuplicates(faces []Face) []Face {
	if len(faces) < 2 {
		return faces
	}

	order := make([]int, len(faces))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(faces[b].Score, faces[a].Score)
	})

	keep := make([]bool, len(faces))
	var kept []int
	for _, i := range order {
		duplicate := false
		for _, k := range kept {
			if computeIoU(faces[i].Region, faces[k].Region) >= constants.DuplicateIoU {
				duplicate = true
				break
			}
		}
		if !duplicate {
			keep[i] = true
			kept = append(kept, i)
		}
	}

	result := make([]Face, 0, len(kept))
	for i, f := range faces {
		if keep[i] {
			result = append(result, f)
		}
	}
	return result
}
