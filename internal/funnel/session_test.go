package funnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := SessionSigner{Key: []byte("test-secret"), TTL: time.Hour, Now: func() time.Time { return now }}

	token, err := signer.Issue("cus_1", "course")
	require.NoError(t, err)
	require.NoError(t, signer.Verify(token, "cus_1", "course"))

	assert.ErrorIs(t, signer.Verify(token, "cus_2", "course"), ErrSessionMismatch)
	assert.ErrorIs(t, signer.Verify(token, "cus_1", "other"), ErrSessionMismatch)
}

func TestSessionExpires(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := SessionSigner{Key: []byte("test-secret"), TTL: time.Hour, Now: func() time.Time { return now }}
	token, err := signer.Issue("cus_1", "course")
	require.NoError(t, err)

	later := SessionSigner{Key: signer.Key, Now: func() time.Time { return now.Add(2 * time.Hour) }}
	assert.Error(t, later.Verify(token, "cus_1", "course"))
}

func TestSessionRejectsForeignKey(t *testing.T) {
	token, err := SessionSigner{Key: []byte("a")}.Issue("cus_1", "course")
	require.NoError(t, err)
	assert.Error(t, SessionSigner{Key: []byte("b")}.Verify(token, "cus_1", "course"))
}

func TestSessionRequiresKey(t *testing.T) {
	_, err := SessionSigner{}.Issue("cus_1", "course")
	assert.Error(t, err)
}
