package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry(time.Minute)

	s := r.Create("Acme University", []string{"a", "b"})
	require.NotEmpty(t, s.ID())
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got, "registry hands out the shared session record")

	_, ok = r.Get("unknown")
	assert.False(t, ok)
}

func TestRegistryResume(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := r.Create("Acme University", []string{"a"})

	got, err := r.Resume(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Resume("unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryExpiry(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	s := r.Create("Acme University", []string{"a"})

	time.Sleep(40 * time.Millisecond)

	_, err := r.Resume(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryResumeExtendsTTL(t *testing.T) {
	r := NewRegistry(60 * time.Millisecond)
	s := r.Create("Acme University", []string{"a"})

	// Keep touching the session past its original TTL.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		_, err := r.Resume(s.ID())
		require.NoError(t, err)
	}

	got, err := r.Resume(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := r.Create("Acme University", []string{"a"})

	r.Delete(s.ID())
	_, ok := r.Get(s.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}
