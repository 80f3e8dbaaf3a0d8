package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscriptionRegistryPendingGate(t *testing.T) {
	r := newSubscriptionRegistry()
	id, err := r.create(ConnectionID(1), "subscribe_x")
	require.NoError(t, err)

	require.False(t, r.canPush(id), "a freshly created subscription must start pending")

	ready := r.markReady(ConnectionID(1))
	require.ElementsMatch(t, []SubscriptionID{id}, ready)
	require.True(t, r.canPush(id))

	require.Empty(t, r.markReady(ConnectionID(1)), "pending flag must never re-set")
}

func TestSubscriptionRegistryPerConnectionCount(t *testing.T) {
	r := newSubscriptionRegistry()
	id1, _ := r.create(ConnectionID(1), "subscribe_x")
	id2, _ := r.create(ConnectionID(1), "subscribe_x")
	require.Equal(t, 2, r.counts[ConnectionID(1)])

	res, ok := r.close(id1)
	require.True(t, ok)
	require.False(t, res.shouldFinish, "one subscription remains on the connection")
	require.Equal(t, 1, r.counts[ConnectionID(1)])

	r.markReady(ConnectionID(1))
	res, ok = r.close(id2)
	require.True(t, ok)
	require.True(t, res.shouldFinish, "last non-pending subscription closing must release the connection")
	_, stillCounted := r.counts[ConnectionID(1)]
	require.False(t, stillCounted)
}

func TestSubscriptionRegistryCloseWhileStillPendingDefersFinish(t *testing.T) {
	r := newSubscriptionRegistry()
	id, _ := r.create(ConnectionID(1), "subscribe_x")

	res, ok := r.close(id)
	require.True(t, ok)
	require.False(t, res.shouldFinish, "closing a still-pending subscription must not finish immediately")
}

func TestSubscriptionRegistryDropConnection(t *testing.T) {
	r := newSubscriptionRegistry()
	id1, _ := r.create(ConnectionID(1), "subscribe_x")
	id2, _ := r.create(ConnectionID(1), "subscribe_x")
	r.create(ConnectionID(2), "subscribe_x")

	dropped := r.dropConnection(ConnectionID(1))
	require.ElementsMatch(t, []SubscriptionID{id1, id2}, dropped)
	require.False(t, r.hasLiveSubscriptions(ConnectionID(1)))
	require.True(t, r.hasLiveSubscriptions(ConnectionID(2)))
	_, ok := r.get(id1)
	require.False(t, ok)
}
