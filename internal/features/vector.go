// Package features holds the biometric value types consumed by the
// enrollment and authentication flows, and the contract of the external
// detector that produces them.
package features

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// FeatureVector is an immutable sequence of components produced by the
// detector. Its length depends on the detector version.
type FeatureVector struct {
	values []float64
}

// Point is a 2D coordinate used by point-set matching.
type Point struct {
	X, Y float64
}

// NewFeatureVector copies values into a new vector.
func NewFeatureVector(values []float64) FeatureVector {
	cp := make([]float64, len(values))
	copy(cp, values)
	return FeatureVector{values: cp}
}

// FromPoints flattens keypoints into a vector as x0, y0, x1, y1, ...
func FromPoints(points []Point) FeatureVector {
	values := make([]float64, 0, len(points)*2)
	for _, p := range points {
		values = append(values, p.X, p.Y)
	}
	return FeatureVector{values: values}
}

// Len returns the number of components.
func (v FeatureVector) Len() int { return len(v.values) }

// IsEmpty reports whether the vector has no components.
func (v FeatureVector) IsEmpty() bool { return len(v.values) == 0 }

// At returns the i-th component.
func (v FeatureVector) At(i int) float64 { return v.values[i] }

// Values returns a copy of the components.
func (v FeatureVector) Values() []float64 {
	cp := make([]float64, len(v.values))
	copy(cp, v.values)
	return cp
}

// Points views the vector as flattened (x, y) pairs. A trailing odd
// component is ignored.
func (v FeatureVector) Points() []Point {
	points := make([]Point, 0, len(v.values)/2)
	for i := 0; i+1 < len(v.values); i += 2 {
		points = append(points, Point{X: v.values[i], Y: v.values[i+1]})
	}
	return points
}

// TemplateID identifies an enrolled vector. It is the store's primary key.
type TemplateID string

const prefixLen = 8

// Prefix returns the short form used for display and logs.
func (id TemplateID) Prefix() string {
	if len(id) <= prefixLen {
		return string(id)
	}
	return string(id[:prefixLen])
}

// String implements fmt.Stringer.
func (id TemplateID) String() string { return string(id) }

// DeriveTemplateID digests the exact bit pattern of every component, so
// bit-identical vectors always share an ID. Two users whose captures
// produce identical vectors therefore share a template; this is accepted
// given extraction entropy.
func DeriveTemplateID(v FeatureVector) TemplateID {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(v.values)))
	h.Write(buf[:])
	for _, c := range v.values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(c))
		h.Write(buf[:])
	}
	return TemplateID(hex.EncodeToString(h.Sum(nil)))
}
