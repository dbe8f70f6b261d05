package usecase

import (
	"errors"
	"fmt"

	"github.com/example/palm-pay/internal/vault"
)

var (
	// ErrExtractionFailed means no biometric was detected in the image.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrNoMatch means no enrolled template cleared the threshold.
	ErrNoMatch = errors.New("no match")
	// ErrUnknownTemplate means the template is not enrolled.
	ErrUnknownTemplate = errors.New("unknown template")
	// ErrInvalidEnrollment rejects enrollment input before extraction.
	ErrInvalidEnrollment = errors.New("invalid enrollment")
	// ErrInvalidPayment rejects a payment request before any lookup.
	ErrInvalidPayment = errors.New("invalid payment")
	// ErrAttemptNotFound means no outcome is recorded for an attempt ID.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrDecryptionFailed means a stored credential failed its integrity
	// check and is permanently unusable.
	ErrDecryptionFailed = vault.ErrDecryptionFailed
	// ErrVaultKeyUnavailable means the vault was never initialised.
	ErrVaultKeyUnavailable = vault.ErrKeyUnavailable
)

// NoMatchError carries the best score observed for diagnostics.
type NoMatchError struct {
	BestScore float64
	Reason    string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("%v: %s (best score %.4f)", ErrNoMatch, e.Reason, e.BestScore)
}

// Is makes errors.Is(err, ErrNoMatch) hold.
func (e *NoMatchError) Is(target error) bool {
	return target == ErrNoMatch
}
