package kgsearch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/kgsearch/store/storetest"
)

func TestSessionSelect(t *testing.T) {
	ctx := context.Background()
	s := NewSession(storetest.New("a", "b"), "a")
	assert.Equal(t, "a", s.Current())

	require.NoError(t, s.Select(ctx, "b"))
	assert.Equal(t, "b", s.Current())

	err := s.Select(ctx, "c")
	assert.ErrorIs(t, err, ErrUnknownDatabase)
	assert.Equal(t, "b", s.Current(), "failed select keeps the previous database")

	g, err := s.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", g.Name())
}

func TestSessionEmpty(t *testing.T) {
	_, err := NewSession(storetest.New(), "").Open(context.Background())
	assert.ErrorIs(t, err, ErrNoDatabaseSelected)
}

func TestSessionConcurrentSelect(t *testing.T) {
	ctx := context.Background()
	s := NewSession(storetest.New("a", "b"), "a")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "a"
			if i%2 == 1 {
				name = "b"
			}
			assert.NoError(t, s.Select(ctx, name))
			_ = s.Current()
		}(i)
	}
	wg.Wait()
	assert.Contains(t, []string{"a", "b"}, s.Current())
}
