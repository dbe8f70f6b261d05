package features

import (
	"context"
	"errors"
)

// ErrNoBiometricDetected is the detector's "not found" signal.
var ErrNoBiometricDetected = errors.New("no biometric detected")

// Extractor turns a decoded image into a feature vector. Implementations
// must be free of side effects and return ErrNoBiometricDetected instead of
// an empty vector.
type Extractor interface {
	Extract(ctx context.Context, img *Image) (FeatureVector, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, img *Image) (FeatureVector, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, img *Image) (FeatureVector, error) {
	return f(ctx, img)
}
