package repository

import (
	"context"

	"gorm.io/gorm"
)

// Nop discards every write. It stands in for AuditRepository when no
// database is configured.
type Nop struct{}

// SaveAttempt implements the audit contract.
func (Nop) SaveAttempt(context.Context, *AttemptLog) error { return nil }

// SaveTransaction implements the audit contract.
func (Nop) SaveTransaction(context.Context, *TransactionLog) error { return nil }

// FindAttempt always reports a missing row.
func (Nop) FindAttempt(context.Context, string) (*AttemptLog, error) {
	return nil, gorm.ErrRecordNotFound
}

// AggregateAttempts reports an empty history.
func (Nop) AggregateAttempts(context.Context) (*AttemptAggregation, error) {
	return &AttemptAggregation{}, nil
}
