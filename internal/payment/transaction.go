// Package payment models the transaction record minted after a successful
// palm match. No funds move here; settlement belongs to the gateway.
package payment

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidAmount is returned for non-positive or malformed amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a monetary value in minor units (1/100).
type Amount int64

// ParseAmount parses a positive decimal with at most two fractional digits.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || (hasFrac && (frac == "" || len(frac) > 2)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if strings.ContainsAny(whole, "+-") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > math.MaxInt64/100-1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	var cents int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || strings.ContainsAny(frac, "+-") {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	a := Amount(units*100 + cents)
	if a <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return a, nil
}

// String formats the amount with two decimals.
func (a Amount) String() string {
	return fmt.Sprintf("%d.%02d", int64(a)/100, int64(a)%100)
}

// Status is the outcome of a payment attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Transaction is constructed once per payment attempt and never retried.
type Transaction struct {
	ID              string    `json:"transaction_id"`
	PayerCredential string    `json:"-"`
	Payee           string    `json:"payee"`
	Amount          Amount    `json:"amount_minor"`
	Description     string    `json:"description,omitempty"`
	MerchantID      string    `json:"merchant_id"`
	Status          Status    `json:"status"`
	Message         string    `json:"message"`
	CreatedAt       time.Time `json:"created_at"`
}
