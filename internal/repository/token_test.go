package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReservationToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := NewReservationToken()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(token, "rsv_"))
		assert.False(t, seen[token], "tokens must not repeat")
		seen[token] = true
	}
}

func TestNewOrderNumber(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

	number, err := NewOrderNumber(now)
	require.NoError(t, err)

	parts := strings.Split(number, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "ORD", parts[0])
	assert.Equal(t, "20260315", parts[1])
	assert.Len(t, parts[2], 4)

	for _, c := range parts[2] {
		assert.Contains(t, orderNumberAlphabet, string(c),
			"suffix must avoid ambiguous characters")
	}
}
