package detect

import "time"

// Detection is one recognized object instance in a frame
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}

// Set holds all detections produced from one processed frame.
type Set struct {
	Detections []Detection `json:"detections"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NewSet wraps detections with their capture timestamp.
func NewSet(detections []Detection, ts time.Time) Set {
	return Set{Detections: detections, Timestamp: ts}
}

// Empty reports whether the set contains no detections.
func (s Set) Empty() bool {
	return len(s.Detections) == 0
}

// AboveThreshold returns the subset of detections with confidence >= threshold.
func (s Set) AboveThreshold(threshold float64) Set {
	var kept []Detection
	for _, d := range s.Detections {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	return Set{Detections: kept, Timestamp: s.Timestamp}
}

// MaxConfidence returns the highest confidence in the set (0 when empty).
func (s Set) MaxConfidence() float64 {
	max := 0.0
	for _, d := range s.Detections {
		if d.Confidence > max {
			max = d.Confidence
		}
	}
	return max
}

// Dominant returns the class name of the maximum-confidence detection,
// or "" when the set is empty.
func (s Set) Dominant() string {
	best := ""
	max := -1.0
	for _, d := range s.Detections {
		if d.Confidence > max {
			max = d.Confidence
			best = d.ClassName
		}
	}
	return best
}

// Categories returns the number of distinct class names in the set.
func (s Set) Categories() int {
	seen := make(map[string]struct{}, len(s.Detections))
	for _, d := range s.Detections {
		seen[d.ClassName] = struct{}{}
	}
	return len(seen)
}
