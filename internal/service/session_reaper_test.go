package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionReaper_ReapOnce(t *testing.T) {
	tr := newTiers(t, time.Hour)
	clock := newTestClock()
	store := tr.newStore(time.Minute, clock)
	_, err := store.Resolve(context.Background(), "s-1", "u-1")
	require.NoError(t, err)

	reaper := NewSessionReaper(store, time.Hour)
	assert.Equal(t, 0, reaper.ReapOnce(context.Background()))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, reaper.ReapOnce(context.Background()))
	assert.Equal(t, 0, store.Stats().Total)
}

func TestSessionReaper_DefaultsIntervalToIdleTimeout(t *testing.T) {
	tr := newTiers(t, time.Hour)
	store := tr.newStore(3*time.Minute, nil)

	reaper := NewSessionReaper(store, 0)
	assert.Equal(t, 3*time.Minute, reaper.interval)
}

func TestSessionReaper_StartStop(t *testing.T) {
	tr := newTiers(t, time.Hour)
	clock := newTestClock()
	store := tr.newStore(time.Minute, clock)
	_, err := store.Resolve(context.Background(), "s-1", "u-1")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	reaper := NewSessionReaper(store, 10*time.Millisecond)
	reaper.Start(context.Background())
	reaper.Start(context.Background())
	assert.True(t, reaper.IsRunning())

	assert.Eventually(t, func() bool { return store.Stats().Total == 0 }, time.Second, 10*time.Millisecond)

	reaper.Stop()
	assert.False(t, reaper.IsRunning())
	// 重复停止无副作用
	reaper.Stop()
}

func TestSessionReaper_StopsWithParentContext(t *testing.T) {
	tr := newTiers(t, time.Hour)
	reaper := NewSessionReaper(tr.newStore(time.Minute, nil), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	reaper.Start(ctx)
	cancel()
	assert.Eventually(t, func() bool { return !reaper.IsRunning() }, time.Second, 5*time.Millisecond)
}
