package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TxnPrefix starts every transaction identifier.
const TxnPrefix = "TXN"

// IDGenerator mints transaction identifiers.
type IDGenerator interface {
	NewID(userID string, now time.Time) string
}

// Scheme names an IDGenerator.
type Scheme string

const (
	SchemeUUID   Scheme = "uuid"
	SchemeLegacy Scheme = "legacy"
)

// NewIDGenerator returns the generator for a configured scheme.
func NewIDGenerator(s Scheme) (IDGenerator, error) {
	switch s {
	case SchemeUUID:
		return UUIDGenerator{}, nil
	case SchemeLegacy:
		return LegacyGenerator{}, nil
	}
	return nil, fmt.Errorf("unknown transaction id scheme %q", s)
}

// UUIDGenerator mints TXN followed by a random UUID in upper-case hex.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID(string, time.Time) string {
	id := uuid.New()
	return TxnPrefix + strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
}

// LegacyGenerator reproduces TXN{unix seconds}{last 4 characters of user id}.
// Two authorizations for the same user within one second get the same ID.
type LegacyGenerator struct{}

// NewID implements IDGenerator.
func (LegacyGenerator) NewID(userID string, now time.Time) string {
	suffix := []rune(userID)
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("%s%d%s", TxnPrefix, now.Unix(), string(suffix))
}
