package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/palm-pay/internal/features"
	"github.com/example/palm-pay/internal/logging"
	"github.com/example/palm-pay/internal/store"
)

// EnrollmentResult is returned on a successful enrollment.
type EnrollmentResult struct {
	TemplateID features.TemplateID
	// Replaced is set when an existing enrollment with the same template
	// was overwritten.
	Replaced bool
}

// RegistryEntry is the display-only view of an enrollment.
type RegistryEntry struct {
	UserID         string    `json:"user_id"`
	TemplatePrefix string    `json:"template_id_prefix"`
	RegisteredAt   time.Time `json:"registration_date"`
}

// EnrollmentService links a palm template to a payment credential.
type EnrollmentService struct {
	extractor features.Extractor
	store     TemplateStore
	vault     CredentialVault
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService constructs a new enrollment service.
func NewEnrollmentService(extractor features.Extractor, store TemplateStore, vault CredentialVault, logger *zap.Logger) *EnrollmentService {
	return &EnrollmentService{
		extractor: extractor,
		store:     store,
		vault:     vault,
		logger:    logger.Named("enrollment"),
		now:       time.Now,
	}
}

// Enroll extracts features from img, encrypts credential and upserts the
// record keyed by the derived template ID. Enrolling the same vector twice
// yields the same ID and replaces the earlier record.
func (s *EnrollmentService) Enroll(ctx context.Context, userID, credential string, img *features.Image) (*EnrollmentResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "usecase.enroll", requestID)

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("%w: user id and credential are required", ErrInvalidEnrollment)
	}

	vec, err := extractFeatures(ctx, s.extractor, img, requestID)
	if err != nil {
		opLogger.Warn("feature extraction failed", zap.Error(err))
		return nil, err
	}
	id := features.DeriveTemplateID(vec)

	blob, err := s.vault.Encrypt(credential)
	if err != nil {
		opLogger.Error("credential encryption failed", zap.Error(err))
		return nil, fmt.Errorf("encrypt credential: %w", err)
	}

	replaced := s.store.Put(store.Record{
		TemplateID:          id,
		UserID:              userID,
		EncryptedCredential: blob,
		RegisteredAt:        s.now().UTC(),
		Features:            vec,
	})
	if replaced {
		opLogger.Warn("template re-registered, previous enrollment overwritten",
			logging.Template(id), zap.String("user_id", userID))
	} else {
		opLogger.Info("template enrolled", logging.Template(id), zap.String("user_id", userID),
			zap.Int("components", vec.Len()))
	}

	return &EnrollmentResult{TemplateID: id, Replaced: replaced}, nil
}

// RegistrySummary lists enrollments for display, oldest first. It never
// exposes credentials or feature vectors.
func (s *EnrollmentService) RegistrySummary(ctx context.Context) []RegistryEntry {
	snap := s.store.Snapshot()
	entries := make([]RegistryEntry, 0, snap.Len())
	for id, rec := range snap.All() {
		entries = append(entries, RegistryEntry{
			UserID:         rec.UserID,
			TemplatePrefix: id.Prefix(),
			RegisteredAt:   rec.RegisteredAt,
		})
	}
	slices.SortStableFunc(entries, func(a, b RegistryEntry) int {
		return a.RegisteredAt.Compare(b.RegisteredAt)
	})
	return entries
}
