package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerLifecycle(t *testing.T) {
	f := newFixture()
	m := NewManager(f.opts)
	ctx := context.Background()

	a, err := m.Create("startup.json", testScenario(), testRules(3))
	require.NoError(t, err)
	b, err := m.Create("startup.json", testScenario(), testRules(3))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	got, err := m.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	list := m.List()
	require.Len(t, list, 2)

	runID := a.State().RunID
	require.NoError(t, m.Delete(ctx, a.ID()))
	assert.Equal(t, []string{runID}, f.events.deleted)
	_, err = m.Get(a.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, a.ID()), ErrNotFound)
	assert.Len(t, m.List(), 1)
}

func TestManagerCreateRejectsInvalidScenario(t *testing.T) {
	m := NewManager(newFixture().opts)
	_, err := m.Create("x.json", nil, testRules(3))
	require.Error(t, err)
	assert.Empty(t, m.List())
}

func TestConcurrentAdvanceIsSerialized(t *testing.T) {
	f := newFixture()
	m := NewManager(f.opts)
	s, err := m.Create("startup.json", testScenario(), testRules(4))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Advance(context.Background())
		}()
	}
	wg.Wait()

	st := s.State()
	assert.Equal(t, 4, st.Round)
	assert.True(t, st.Terminated)
	assert.Len(t, st.Rounds, 4)
	assert.Equal(t, 1, f.source.finalCalls)
	assert.Len(t, f.store.records, 1)
}
