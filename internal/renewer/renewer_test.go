package renewer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/requestrepo/internal/eventbus"
	"github.com/arc-self/requestrepo/internal/renewer"
	"github.com/arc-self/requestrepo/internal/store"
)

func noopBus(t *testing.T) *eventbus.Bus {
	bus, err := eventbus.Connect("", zaptest.NewLogger(t))
	require.NoError(t, err)
	return bus
}

func TestStartWritesTXTRecordUnderLock(t *testing.T) {
	fake := store.NewFakeStore()
	r := renewer.New(fake, noopBus(t), zaptest.NewLogger(t), "example.com")

	require.NoError(t, r.Start())
	defer r.Stop()

	raw, ok, err := fake.Get(context.Background(), "dns:TXT:example.com.")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, raw, "renewal-pending")
}

func TestStartReleasesLockAfterRunning(t *testing.T) {
	fake := store.NewFakeStore()
	r := renewer.New(fake, noopBus(t), zaptest.NewLogger(t), "example.com")

	require.NoError(t, r.Start())
	defer r.Stop()

	acquired, release, err := fake.Lock(context.Background(), renewer.LockName, 3600)
	require.NoError(t, err)
	assert.True(t, acquired, "lock must be released once the run completes")
	if release != nil {
		_ = release(context.Background())
	}
}

func TestConcurrentRenewersOnlyOneAcquiresLock(t *testing.T) {
	fake := store.NewFakeStore()

	acquired, release, err := fake.Lock(context.Background(), renewer.LockName, 3600)
	require.NoError(t, err)
	require.True(t, acquired)

	r := renewer.New(fake, noopBus(t), zaptest.NewLogger(t), "example.com")
	require.NoError(t, r.Start())
	defer r.Stop()

	// The lock was already held, so Start's immediate run must have been a
	// no-op: no TXT record should have been written.
	_, ok, err := fake.Get(context.Background(), "dns:TXT:example.com.")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(context.Background()))
}
