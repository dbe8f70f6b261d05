package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/palm-pay/internal/logging"
)

// AttemptLog records one authentication attempt. It never holds feature
// vectors or credentials; templates are referenced by display prefix only.
type AttemptLog struct {
	ID             uint      `gorm:"primaryKey"`
	AttemptID      string    `gorm:"column:attempt_id;uniqueIndex;size:64"`
	Matched        bool      `gorm:"column:matched"`
	TemplatePrefix string    `gorm:"column:template_prefix;size:16"`
	Score          float64   `gorm:"column:score"`
	Reason         string    `gorm:"column:reason;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AttemptLog) TableName() string {
	return "authentication_attempts"
}

// TransactionLog records a minted transaction without the payer credential.
type TransactionLog struct {
	ID             uint      `gorm:"primaryKey"`
	TransactionID  string    `gorm:"column:transaction_id;uniqueIndex;size:64"`
	TemplatePrefix string    `gorm:"column:template_prefix;size:16"`
	Payee          string    `gorm:"column:payee;size:255"`
	AmountMinor    int64     `gorm:"column:amount_minor"`
	Description    string    `gorm:"column:description;type:text"`
	MerchantID     string    `gorm:"column:merchant_id;size:64"`
	Status         string    `gorm:"column:status;size:16"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (TransactionLog) TableName() string {
	return "transactions"
}

// AuditRepository persists attempt and transaction logs.
type AuditRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAuditRepository creates a new repository instance.
func NewAuditRepository(db *gorm.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:             db,
		logger:         logger.Named("audit_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AuditRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AttemptLog{}, &TransactionLog{})
}

// SaveAttempt persists an authentication attempt.
func (r *AuditRepository) SaveAttempt(ctx context.Context, log *AttemptLog) error {
	return r.executeWithRetry(ctx, "repository.save_attempt", log.AttemptID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// SaveTransaction persists a minted transaction.
func (r *AuditRepository) SaveTransaction(ctx context.Context, log *TransactionLog) error {
	return r.executeWithRetry(ctx, "repository.save_transaction", log.TransactionID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindAttempt loads an attempt by its identifier.
func (r *AuditRepository) FindAttempt(ctx context.Context, attemptID string) (*AttemptLog, error) {
	var log AttemptLog
	err := r.executeWithRetry(ctx, "repository.find_attempt", attemptID, func() error {
		return r.db.WithContext(ctx).First(&log, "attempt_id = ?", attemptID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AttemptAggregation summarises persisted attempts.
type AttemptAggregation struct {
	TotalCount   int64
	MatchedCount int64
	AverageScore float64
}

// AggregateAttempts computes attempt counts and the mean score.
func (r *AuditRepository) AggregateAttempts(ctx context.Context) (*AttemptAggregation, error) {
	var agg AttemptAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_attempts", "", func() error {
		return r.db.WithContext(ctx).Model(&AttemptLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS matched_count, " +
				"COALESCE(AVG(score), 0) AS average_score").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func (r *AuditRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	backoff := r.initialBackoff
	attempts := max(r.retryAttempts, 1)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !isTransientError(err) || attempt == attempts-1 {
			break
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}

	if !IsNotFound(err) {
		opLogger.Error("database operation failed", zap.Error(err))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
