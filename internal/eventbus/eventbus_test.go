package eventbus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/requestrepo/internal/eventbus"
)

func TestConnectWithEmptyURLIsNoOp(t *testing.T) {
	bus, err := eventbus.Connect("", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, bus)

	// Publish and Close on a no-op bus must never panic or block.
	assert.NotPanics(t, func() {
		bus.Publish("SYSTEM_EVENTS.cron.renewer", []byte(`{"event":"test"}`))
		bus.Close()
	})
}

func TestConnectWithUnreachableURLRetriesInBackground(t *testing.T) {
	// RetryOnFailedConnect(true) means Connect does not fail synchronously
	// when the broker is unreachable at startup — it enters reconnecting
	// state instead, matching packages/go-core/natsclient/client.go.
	bus, err := eventbus.Connect("nats://127.0.0.1:1", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer bus.Close()

	assert.NotPanics(t, func() {
		bus.Publish("SYSTEM_EVENTS.cron.renewer", []byte(`{"event":"test"}`))
	})
}
