package slottoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s, err := NewSigner("0123456789abcdef-secret", 10*time.Minute)
	require.NoError(t, err)
	s = s.WithClock(func() time.Time { return now })

	c := Claims{
		JobID:      "j1",
		JobVersion: now.Add(-time.Hour),
		WorkerID:   "w2",
		Start:      now.Add(48 * time.Hour),
		End:        now.Add(50 * time.Hour),
	}
	tok := s.Sign(c)
	require.NoError(t, s.Verify(tok, c))

	moved := c
	moved.Start = moved.Start.Add(15 * time.Minute)
	assert.ErrorIs(t, s.Verify(tok, moved), ErrForged)

	other := c
	other.WorkerID = "w3"
	assert.ErrorIs(t, s.Verify(tok, other), ErrForged)

	edited := c
	edited.JobVersion = now
	assert.ErrorIs(t, s.Verify(tok, edited), ErrStale)

	later := s.WithClock(func() time.Time { return now.Add(11 * time.Minute) })
	assert.ErrorIs(t, later.Verify(tok, c), ErrExpired)
}

func TestSigner_RejectsForeignAndMalformed(t *testing.T) {
	a, err := NewSigner("0123456789abcdef-a", 0)
	require.NoError(t, err)
	b, err := NewSigner("0123456789abcdef-b", 0)
	require.NoError(t, err)

	c := Claims{JobID: "j1", WorkerID: "w1", Start: time.Unix(1000, 0), End: time.Unix(4600, 0)}
	assert.ErrorIs(t, b.Verify(a.Sign(c), c), ErrForged)

	for _, tok := range []string{"", "v1", "v2.a.b.c", "v1.zz!.1.AAAA", "v1.1.1.***"} {
		assert.ErrorIs(t, a.Verify(tok, c), ErrMalformed, tok)
	}
}

func TestNewSigner_ShortSecret(t *testing.T) {
	_, err := NewSigner("short", time.Minute)
	assert.Error(t, err)
}
