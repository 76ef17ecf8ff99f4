package repository

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewReservationToken generates a cryptographically secure opaque token
// identifying one checkout attempt.
func NewReservationToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return "rsv_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// NewOrderNumber generates an external-safe order number of the form
// ORD-YYYYMMDD-XXXX. The suffix alphabet omits easily confused
// characters (0/O, 1/I/L).
func NewOrderNumber(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	suffix := make([]byte, 4)
	for i, v := range b {
		suffix[i] = orderNumberAlphabet[int(v)%len(orderNumberAlphabet)]
	}

	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix), nil
}
