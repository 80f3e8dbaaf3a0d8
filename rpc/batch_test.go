package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchTrackerSingleRequest(t *testing.T) {
	tr := newBatchTracker()
	tr.inject([]byte(`{"jsonrpc":"2.0","method":"say_hello","id":7}`), ConnectionID(1))

	ev, ok := tr.nextEvent()
	require.True(t, ok)
	reqEv, ok := ev.(evtRequest)
	require.True(t, ok)

	req, ok := tr.requestByID(reqEv.elem)
	require.True(t, ok)
	require.Equal(t, "say_hello", req.Method)

	tr.setResponse(reqEv.elem, req.response("hello"))

	ev, ok = tr.nextEvent()
	require.True(t, ok)
	ready, ok := ev.(evtReadyToSend)
	require.True(t, ok)
	require.NotNil(t, ready.connID)
	require.JSONEq(t, `{"jsonrpc":"2.0","result":"hello","id":7}`, string(ready.response))
}

func TestBatchTrackerNotificationNeverRepliesAndIsStandalone(t *testing.T) {
	tr := newBatchTracker()
	tr.inject([]byte(`{"jsonrpc":"2.0","method":"tick"}`), ConnectionID(1))

	ev, ok := tr.nextEvent()
	require.True(t, ok)
	n, ok := ev.(evtNotification)
	require.True(t, ok)
	require.Equal(t, "tick", n.msg.Method)

	_, ok = tr.nextEvent()
	require.False(t, ok, "a notification alone must not also produce a ReadyToSend")
}

func TestBatchTrackerWaitsForEveryElement(t *testing.T) {
	tr := newBatchTracker()
	tr.inject([]byte(`[{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1},
		{"jsonrpc":"2.0","method":"add","params":[3,4],"id":2}]`), ConnectionID(1))

	first, ok := tr.nextEvent()
	require.True(t, ok)
	second, ok := tr.nextEvent()
	require.True(t, ok)
	_, ok = tr.nextEvent()
	require.False(t, ok, "ReadyToSend must not fire before both elements are answered")

	elem1 := first.(evtRequest).elem
	elem2 := second.(evtRequest).elem

	req1, _ := tr.requestByID(elem1)
	tr.setResponse(elem1, req1.response(3))
	_, ok = tr.nextEvent()
	require.False(t, ok, "still one element outstanding")

	req2, _ := tr.requestByID(elem2)
	tr.setResponse(elem2, req2.response(7))

	ev, ok := tr.nextEvent()
	require.True(t, ok)
	ready := ev.(evtReadyToSend)
	require.JSONEq(t, `[{"jsonrpc":"2.0","result":3,"id":1},{"jsonrpc":"2.0","result":7,"id":2}]`, string(ready.response))
}

func TestBatchTrackerMalformedElementAnsweredImmediately(t *testing.T) {
	tr := newBatchTracker()
	tr.inject([]byte(`{"jsonrpc":"2.0","id":9}`), ConnectionID(1)) // no method, has id: invalid

	ev, ok := tr.nextEvent()
	require.True(t, ok)
	require.IsType(t, evtReadyToSend{}, ev)
}

func TestBatchTrackerParseErrorHasNoBatch(t *testing.T) {
	tr := newBatchTracker()
	tr.inject([]byte(`{"jsonrpc":"2.0"`), ConnectionID(1))

	ev, ok := tr.nextEvent()
	require.True(t, ok)
	ready := ev.(evtReadyToSend)
	require.Contains(t, string(ready.response), "\"code\":-32700")
	require.Empty(t, tr.batches)
}

func TestBatchTrackerConnectionCloseDropsReplySilently(t *testing.T) {
	tr := newBatchTracker()
	tr.inject([]byte(`{"jsonrpc":"2.0","method":"say_hello","id":1}`), ConnectionID(1))
	ev, _ := tr.nextEvent()
	elem := ev.(evtRequest).elem

	for _, b := range tr.batchesForConnection(ConnectionID(1)) {
		tr.clearConnection(b)
	}

	req, _ := tr.requestByID(elem)
	tr.setResponse(elem, req.response([]byte(`"hello"`)))

	_, ok := tr.nextEvent()
	require.False(t, ok, "a ReadyToSend with a nulled connection must not be emitted")
}
