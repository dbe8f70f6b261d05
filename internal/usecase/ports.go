package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/palm-pay/internal/features"
	"github.com/example/palm-pay/internal/logging"
	"github.com/example/palm-pay/internal/repository"
	"github.com/example/palm-pay/internal/store"
)

// TemplateStore is the enrolled-template registry.
type TemplateStore interface {
	Put(rec store.Record) (replaced bool)
	Get(id features.TemplateID) (store.Record, bool)
	Snapshot() store.Snapshot
}

// CredentialVault seals and opens payment credentials.
type CredentialVault interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(blob []byte) (string, error)
}

// AuditRepository defines the persistence operations needed by the use cases.
type AuditRepository interface {
	SaveAttempt(ctx context.Context, log *repository.AttemptLog) error
	SaveTransaction(ctx context.Context, log *repository.TransactionLog) error
	FindAttempt(ctx context.Context, attemptID string) (*repository.AttemptLog, error)
	AggregateAttempts(ctx context.Context) (*repository.AttemptAggregation, error)
}

// extractFeatures maps the detector's "not found" signal, or an empty
// vector, to ErrExtractionFailed. Other failures are infrastructure errors.
func extractFeatures(ctx context.Context, ex features.Extractor, img *features.Image, requestID string) (features.FeatureVector, error) {
	if img == nil {
		return features.FeatureVector{}, features.ErrInvalidImage
	}
	v, err := ex.Extract(ctx, img)
	switch {
	case errors.Is(err, features.ErrNoBiometricDetected):
		return features.FeatureVector{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	case errors.Is(err, features.ErrInvalidImage):
		return features.FeatureVector{}, err
	case err != nil:
		return features.FeatureVector{}, logging.NewOperationError("usecase.extract_features", requestID, err)
	case v.IsEmpty():
		return features.FeatureVector{}, fmt.Errorf("%w: %w", ErrExtractionFailed, features.ErrNoBiometricDetected)
	}
	return v, nil
}
