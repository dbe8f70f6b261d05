package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/palm-pay/internal/features"
	"github.com/example/palm-pay/internal/matcher"
	"github.com/example/palm-pay/internal/payment"
	"github.com/example/palm-pay/internal/repository"
	"github.com/example/palm-pay/internal/store"
	"github.com/example/palm-pay/internal/vault"
)

// stubExtractor returns the vector registered for an image pointer.
type stubExtractor struct {
	mu      sync.Mutex
	vectors map[*features.Image]features.FeatureVector
	err     error
}

func newStubExtractor() *stubExtractor {
	return &stubExtractor{vectors: make(map[*features.Image]features.FeatureVector)}
}

func (s *stubExtractor) image(values ...float64) *features.Image {
	img := &features.Image{Width: 1, Height: 1, Pix: []byte{0, 0, 0}}
	s.mu.Lock()
	s.vectors[img] = features.NewFeatureVector(values)
	s.mu.Unlock()
	return img
}

func (s *stubExtractor) Extract(_ context.Context, img *features.Image) (features.FeatureVector, error) {
	if s.err != nil {
		return features.FeatureVector{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vectors[img]
	if !ok {
		return features.FeatureVector{}, features.ErrNoBiometricDetected
	}
	return v, nil
}

type stubCache struct {
	mu      sync.Mutex
	values  map[string]string
	setErrs []error
	getErrs []error
	setKeys []string
}

func newStubCache() *stubCache { return &stubCache{values: make(map[string]string)} }

func (s *stubCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return "", err
		}
	}
	v, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

type stubAudit struct {
	mu           sync.Mutex
	attempts     []*repository.AttemptLog
	transactions []*repository.TransactionLog
	saveErr      error
	aggregate    *repository.AttemptAggregation
}

func (s *stubAudit) SaveAttempt(_ context.Context, log *repository.AttemptLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, log)
	return s.saveErr
}

func (s *stubAudit) SaveTransaction(_ context.Context, log *repository.TransactionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, log)
	return s.saveErr
}

func (s *stubAudit) FindAttempt(_ context.Context, attemptID string) (*repository.AttemptLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.AttemptID == attemptID {
			return a, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubAudit) AggregateAttempts(context.Context) (*repository.AttemptAggregation, error) {
	if s.aggregate == nil {
		return nil, errors.New("aggregate unavailable")
	}
	return s.aggregate, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

type fixture struct {
	extractor *stubExtractor
	store     *store.TemplateStore
	vault     *vault.Vault
	cache     *stubCache
	audit     *stubAudit
	enroll    *EnrollmentService
	auth      *AuthenticationService
}

func newFixture(t *testing.T, m *matcher.Matcher) *fixture {
	t.Helper()
	v, err := vault.New()
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	f := &fixture{
		extractor: newStubExtractor(),
		store:     store.New(),
		vault:     v,
		cache:     newStubCache(),
		audit:     &stubAudit{},
	}
	f.enroll = NewEnrollmentService(f.extractor, f.store, f.vault, zap.NewNop())
	f.auth = NewAuthenticationService(AuthenticationDeps{
		Extractor:  f.extractor,
		Store:      f.store,
		Vault:      f.vault,
		Matcher:    m,
		TxnIDs:     payment.UUIDGenerator{},
		Cache:      f.cache,
		Audit:      f.audit,
		MerchantID: "MERCHANT123456",
	}, zap.NewNop())
	f.auth.retry = retryPolicy{attempts: 3, initialBackoff: time.Millisecond, maxBackoff: 2 * time.Millisecond}
	return f
}

func cosineMatcher() *matcher.Matcher {
	return matcher.New(matcher.Cosine{}, matcher.DefaultCosineThreshold)
}

func pointSetMatcher() *matcher.Matcher {
	return matcher.New(matcher.PointSet{MaxDistance: matcher.DefaultMaxDistance, Normalization: matcher.NormalizePresented},
		matcher.DefaultPointSetThreshold)
}
