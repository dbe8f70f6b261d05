package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/palm-pay/internal/features"
	"github.com/example/palm-pay/internal/logging"
	"github.com/example/palm-pay/internal/matcher"
	"github.com/example/palm-pay/internal/payment"
	"github.com/example/palm-pay/internal/repository"
	"github.com/example/palm-pay/internal/store"
)

const (
	reasonEmptyRegistry = "no enrolled templates"
	reasonNotRecognized = "palm not recognized"

	attemptTTL = 5 * time.Minute
)

// MatchResult is the outcome of one authentication attempt.
type MatchResult struct {
	AttemptID  string
	Matched    bool
	TemplateID features.TemplateID
	// Score is the winning score, or the best score observed on failure.
	Score     float64
	Reason    string
	Evaluated int
}

// PaymentRequest asks to release the credential linked to TemplateID.
type PaymentRequest struct {
	TemplateID  features.TemplateID
	Amount      payment.Amount
	Payee       string
	Description string
}

// AttemptOutcome is the cached, credential-free view of an attempt.
type AttemptOutcome struct {
	AttemptID      string    `json:"attempt_id"`
	Matched        bool      `json:"matched"`
	TemplatePrefix string    `json:"template_prefix,omitempty"`
	Score          float64   `json:"score"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuthenticationDeps groups the collaborators of AuthenticationService.
type AuthenticationDeps struct {
	Extractor  features.Extractor
	Store      TemplateStore
	Vault      CredentialVault
	Matcher    *matcher.Matcher
	TxnIDs     payment.IDGenerator
	Cache      Cache
	Audit      AuditRepository
	MerchantID string
}

// AuthenticationService matches a presented palm against enrollments and
// releases the linked credential for a payment.
type AuthenticationService struct {
	extractor  features.Extractor
	store      TemplateStore
	vault      CredentialVault
	matcher    *matcher.Matcher
	txnIDs     payment.IDGenerator
	cache      Cache
	audit      AuditRepository
	merchantID string
	logger     *zap.Logger
	retry      retryPolicy
	now        func() time.Time
}

// NewAuthenticationService constructs the service. A nil Cache or Audit
// disables that side channel.
func NewAuthenticationService(deps AuthenticationDeps, logger *zap.Logger) *AuthenticationService {
	s := &AuthenticationService{
		extractor:  deps.Extractor,
		store:      deps.Store,
		vault:      deps.Vault,
		matcher:    deps.Matcher,
		txnIDs:     deps.TxnIDs,
		cache:      deps.Cache,
		audit:      deps.Audit,
		merchantID: deps.MerchantID,
		logger:     logger.Named("authentication"),
		retry:      defaultRetry,
		now:        time.Now,
	}
	if s.cache == nil {
		s.cache = NopCache{}
	}
	if s.audit == nil {
		s.audit = repository.Nop{}
	}
	if s.txnIDs == nil {
		s.txnIDs = payment.UUIDGenerator{}
	}
	return s
}

// Authenticate extracts features from img and searches a snapshot of the
// store for the best match. On failure it returns the result carrying the
// best score together with a *NoMatchError.
func (s *AuthenticationService) Authenticate(ctx context.Context, img *features.Image) (*MatchResult, error) {
	attemptID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "usecase.authenticate", attemptID)

	vec, err := extractFeatures(ctx, s.extractor, img, attemptID)
	if err != nil {
		opLogger.Warn("feature extraction failed", zap.Error(err))
		if errors.Is(err, ErrExtractionFailed) {
			s.recordAttempt(ctx, &MatchResult{AttemptID: attemptID, Reason: features.ErrNoBiometricDetected.Error()})
		}
		return nil, err
	}

	snap := s.store.Snapshot()
	decision := s.matcher.Best(vec, candidatesOf(snap))

	result := &MatchResult{
		AttemptID:  attemptID,
		Matched:    decision.Matched,
		TemplateID: decision.TemplateID,
		Score:      decision.Score,
		Evaluated:  decision.Evaluated,
	}
	if !decision.Matched {
		result.Reason = reasonNotRecognized
		if decision.Evaluated == 0 {
			result.Reason = reasonEmptyRegistry
		}
	}
	s.recordAttempt(ctx, result)

	if !result.Matched {
		opLogger.Info("palm not matched", zap.Float64("best_score", result.Score),
			zap.Int("evaluated", result.Evaluated), zap.Float64("threshold", s.matcher.Threshold()))
		return result, &NoMatchError{BestScore: result.Score, Reason: result.Reason}
	}

	opLogger.Info("palm authenticated", logging.Template(result.TemplateID), zap.Float64("score", result.Score))
	return result, nil
}

// AuthorizePayment resolves the credential linked to the template and
// mints a transaction record. No funds move.
func (s *AuthenticationService) AuthorizePayment(ctx context.Context, req PaymentRequest) (*payment.Transaction, error) {
	opLogger := logging.WithOperation(s.logger, "usecase.authorize_payment", "")

	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayment, payment.ErrInvalidAmount)
	}
	if strings.TrimSpace(req.Payee) == "" {
		return nil, fmt.Errorf("%w: payee is required", ErrInvalidPayment)
	}

	rec, ok := s.store.Get(req.TemplateID)
	if !ok {
		opLogger.Warn("payment requested for unknown template", logging.Template(req.TemplateID))
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, req.TemplateID.Prefix())
	}

	credential, err := s.vault.Decrypt(rec.EncryptedCredential)
	if err != nil {
		opLogger.Error("credential release failed", logging.Template(req.TemplateID), zap.Error(err))
		return nil, err
	}

	now := s.now().UTC()
	txn := &payment.Transaction{
		ID:              s.txnIDs.NewID(rec.UserID, now),
		PayerCredential: credential,
		Payee:           req.Payee,
		Amount:          req.Amount,
		Description:     req.Description,
		MerchantID:      s.merchantID,
		Status:          payment.StatusSuccess,
		Message:         "payment processed successfully",
		CreatedAt:       now,
	}

	if err := s.audit.SaveTransaction(ctx, &repository.TransactionLog{
		TransactionID:  txn.ID,
		TemplatePrefix: req.TemplateID.Prefix(),
		Payee:          txn.Payee,
		AmountMinor:    int64(txn.Amount),
		Description:    txn.Description,
		MerchantID:     txn.MerchantID,
		Status:         string(txn.Status),
		CreatedAt:      now,
	}); err != nil {
		opLogger.Warn("failed to persist transaction log", zap.Error(err))
	}

	opLogger.Info("payment authorized", zap.String("transaction_id", txn.ID),
		logging.Template(req.TemplateID), zap.Stringer("amount", txn.Amount))
	return txn, nil
}

// GetAttempt returns a cached attempt outcome, falling back to the audit
// trail.
func (s *AuthenticationService) GetAttempt(ctx context.Context, attemptID string) (*AttemptOutcome, error) {
	cacheKey := attemptCacheKey(attemptID)
	var cached string
	err := s.retry.do(ctx, s.logger, attemptID, "cache.get.attempt", func() error {
		v, err := s.cache.Get(ctx, cacheKey)
		cached = v
		return err
	})
	if err == nil {
		var out AttemptOutcome
		jerr := json.Unmarshal([]byte(cached), &out)
		if jerr == nil {
			return &out, nil
		}
		logging.WithOperation(s.logger, "usecase.get_attempt", attemptID).Warn("failed to decode cached attempt", zap.Error(jerr))
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(s.logger, "usecase.get_attempt", attemptID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := s.audit.FindAttempt(ctx, attemptID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID)
		}
		return nil, err
	}
	return &AttemptOutcome{
		AttemptID:      log.AttemptID,
		Matched:        log.Matched,
		TemplatePrefix: log.TemplatePrefix,
		Score:          log.Score,
		Reason:         log.Reason,
		CreatedAt:      log.CreatedAt,
	}, nil
}

// recordAttempt caches and audits an outcome. Both are best effort: a
// failure is logged and never changes the authentication result.
func (s *AuthenticationService) recordAttempt(ctx context.Context, r *MatchResult) {
	opLogger := logging.WithOperation(s.logger, "usecase.record_attempt", r.AttemptID)
	out := AttemptOutcome{
		AttemptID: r.AttemptID,
		Matched:   r.Matched,
		Score:     r.Score,
		Reason:    r.Reason,
		CreatedAt: s.now().UTC(),
	}
	if r.Matched {
		out.TemplatePrefix = r.TemplateID.Prefix()
	}

	serialized, err := json.Marshal(out)
	if err != nil {
		opLogger.Error("failed to serialize attempt", zap.Error(err))
		return
	}
	if err := s.retry.do(ctx, s.logger, r.AttemptID, "cache.set.attempt", func() error {
		return s.cache.Set(ctx, attemptCacheKey(r.AttemptID), string(serialized), attemptTTL)
	}); err != nil {
		opLogger.Warn("failed to cache attempt", zap.Error(err))
	}

	if err := s.audit.SaveAttempt(ctx, &repository.AttemptLog{
		AttemptID:      out.AttemptID,
		Matched:        out.Matched,
		TemplatePrefix: out.TemplatePrefix,
		Score:          out.Score,
		Reason:         out.Reason,
		CreatedAt:      out.CreatedAt,
	}); err != nil {
		opLogger.Warn("failed to persist attempt", zap.Error(err))
	}
}

func attemptCacheKey(attemptID string) string {
	return fmt.Sprintf("authentication:%s", attemptID)
}

func candidatesOf(snap store.Snapshot) iter.Seq[matcher.Candidate] {
	return func(yield func(matcher.Candidate) bool) {
		for id, rec := range snap.All() {
			if !yield(matcher.Candidate{ID: id, Vector: rec.Features}) {
				return
			}
		}
	}
}
