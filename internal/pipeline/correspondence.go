package pipeline

import (
	"sort"

	"github.com/maauso/faceswap-api/internal/vision"
)

// Pair assigns a source identity to a face detected in a frame.
type Pair struct {
	Target vision.Face
	Source vision.Face
}

// ResolveCorrespondence orders detected faces left to right by the left
// edge of their bounding box and assigns sources cyclically: the i-th face
// gets sources[i mod len(sources)]. Faces with equal left edges keep their
// detection order. It returns nil when either list is empty.
//
// Assignment is per frame; the same person is not tracked across frames.
func ResolveCorrespondence(detected, sources []vision.Face) []Pair {
	if len(detected) == 0 || len(sources) == 0 {
		return nil
	}

	ordered := make([]vision.Face, len(detected))
	copy(ordered, detected)
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].BBox.X1 < ordered[b].BBox.X1
	})

	pairs := make([]Pair, len(ordered))
	for i, face := range ordered {
		pairs[i] = Pair{Target: face, Source: sources[i%len(sources)]}
	}
	return pairs
}
