package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestServer(t *testing.T) (*Server, *fakeTransport) {
	tr := newFakeTransport()
	srv := NewServer(tr, "test", nil)
	t.Cleanup(srv.Close)
	return srv, tr
}

// TestServerSayHelloS1 covers spec.md §8 S1.
func TestServerSayHelloS1(t *testing.T) {
	srv, tr := newTestServer(t)

	m, err := srv.RegisterMethod("say_hello", 4)
	require.NoError(t, err)
	go func() {
		ctx := context.Background()
		for {
			call, ok := m.Next(ctx)
			if !ok {
				return
			}
			m.Respond(call.ID, "hello", nil)
		}
	}()

	tr.deliver(ConnectionID(1), []byte(`{"jsonrpc":"2.0","method":"say_hello","id":7}`))
	waitUntil(t, time.Second, func() bool { return len(tr.finishedTo(ConnectionID(1))) > 0 })
	require.JSONEq(t, `{"jsonrpc":"2.0","result":"hello","id":7}`, string(tr.finishedTo(ConnectionID(1))[0]))
}

// TestServerAddS2 covers spec.md §8 S2.
func TestServerAddS2(t *testing.T) {
	srv, tr := newTestServer(t)

	m, err := srv.RegisterMethod("add", 4)
	require.NoError(t, err)
	go func() {
		ctx := context.Background()
		for {
			call, ok := m.Next(ctx)
			if !ok {
				return
			}
			var args []int
			require.NoError(t, json.Unmarshal(call.Params, &args))
			m.Respond(call.ID, args[0]+args[1], nil)
		}
	}()

	tr.deliver(ConnectionID(1), []byte(`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`))
	waitUntil(t, time.Second, func() bool { return len(tr.finishedTo(ConnectionID(1))) > 0 })
	require.JSONEq(t, `{"jsonrpc":"2.0","result":3,"id":1}`, string(tr.finishedTo(ConnectionID(1))[0]))
}

// TestServerMethodNotFoundS3 covers spec.md §8 S3.
func TestServerMethodNotFoundS3(t *testing.T) {
	_, tr := newTestServer(t)

	tr.deliver(ConnectionID(1), []byte(`{"jsonrpc":"2.0","method":"bar","id":"foo"}`))
	waitUntil(t, time.Second, func() bool { return len(tr.finishedTo(ConnectionID(1))) > 0 })
	require.Contains(t, string(tr.finishedTo(ConnectionID(1))[0]), "\"code\":-32601")
	require.Contains(t, string(tr.finishedTo(ConnectionID(1))[0]), "\"id\":\"foo\"")
}

// TestServerParseErrorS4 covers spec.md §8 S4: a malformed request yields
// a parse error, and a subsequent valid request on the same connection
// still succeeds.
func TestServerParseErrorS4(t *testing.T) {
	srv, tr := newTestServer(t)
	m, err := srv.RegisterMethod("say_hello", 4)
	require.NoError(t, err)
	go func() {
		ctx := context.Background()
		for {
			call, ok := m.Next(ctx)
			if !ok {
				return
			}
			m.Respond(call.ID, "hello", nil)
		}
	}()

	tr.deliver(ConnectionID(1), []byte(`{"jsonrpc":"2.0","method":"say_hello","id"}`))
	waitUntil(t, time.Second, func() bool { return len(tr.finishedTo(ConnectionID(1))) > 0 })
	require.Contains(t, string(tr.finishedTo(ConnectionID(1))[0]), "\"code\":-32700")
	require.Contains(t, string(tr.finishedTo(ConnectionID(1))[0]), "\"id\":null")

	tr.deliver(ConnectionID(1), []byte(`{"jsonrpc":"2.0","method":"say_hello","id":2}`))
	waitUntil(t, time.Second, func() bool { return len(tr.finishedTo(ConnectionID(1))) > 1 })
	require.JSONEq(t, `{"jsonrpc":"2.0","result":"hello","id":2}`, string(tr.finishedTo(ConnectionID(1))[1]))
}

// TestServerSubscriptionS5 covers spec.md §8 S5: no push before the
// subscribe reply, exactly one push after, carrying the replied id.
func TestServerSubscriptionS5(t *testing.T) {
	srv, tr := newTestServer(t)
	sub, err := srv.RegisterSubscription("subscribe_x", "unsubscribe_x", 4)
	require.NoError(t, err)

	require.NoError(t, sub.Send("too-early"))

	// The subscribe reply goes out through Send, because the connection
	// now hosts a live subscription.
	tr.deliver(ConnectionID(1), []byte(`{"jsonrpc":"2.0","method":"subscribe_x","id":1}`))
	waitUntil(t, time.Second, func() bool { return len(tr.sentTo(ConnectionID(1))) > 0 })
	sent := tr.sentTo(ConnectionID(1))
	require.Len(t, sent, 1, "no push may precede the subscribe reply")
	var reply struct {
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(sent[0], &reply))

	require.NoError(t, sub.Send("on-time"))
	waitUntil(t, time.Second, func() bool { return len(tr.sentTo(ConnectionID(1))) > 1 })
	push := string(tr.sentTo(ConnectionID(1))[1])
	require.Contains(t, push, "on-time")
	require.Contains(t, push, reply.Result)
}

// TestServerConnectionLossS6 covers spec.md §8 S6.
func TestServerConnectionLossS6(t *testing.T) {
	srv, tr := newTestServer(t)
	sub, err := srv.RegisterSubscription("subscribe_x", "unsubscribe_x", 4)
	require.NoError(t, err)

	tr.deliver(ConnectionID(1), []byte(`{"jsonrpc":"2.0","method":"subscribe_x","id":1}`))
	waitUntil(t, time.Second, func() bool { return len(tr.sentTo(ConnectionID(1))) > 0 })

	tr.closeConn(ConnectionID(1))
	time.Sleep(20 * time.Millisecond) // let the background task process SubscriptionsClosed

	before := len(tr.sentTo(ConnectionID(1)))
	require.NoError(t, sub.Send("after-disconnect"))
	time.Sleep(20 * time.Millisecond)
	require.Len(t, tr.sentTo(ConnectionID(1)), before)
}

// TestServerDuplicateRegistrationP4 covers spec.md §8 P4, including the
// atomic-pair rollback on the subscribe/unsubscribe path.
func TestServerDuplicateRegistrationP4(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.RegisterMethod("say_hello", 4)
	require.NoError(t, err)
	_, err = srv.RegisterMethod("say_hello", 4)
	require.Error(t, err)
	require.IsType(t, &MethodAlreadyRegisteredError{}, err)

	_, err = srv.RegisterMethod("unsubscribe_x", 4)
	require.NoError(t, err)
	_, err = srv.RegisterSubscription("subscribe_x", "unsubscribe_x", 4)
	require.Error(t, err, "unsubscribe_x is already taken")

	// subscribe_x must have been rolled back and be available again.
	_, err = srv.RegisterSubscription("subscribe_x", "unsubscribe_y", 4)
	require.NoError(t, err)
}

// TestServerMethodBusyRejectsImmediately covers spec.md §6's server-error
// code 0: a registered method whose handler queue is full (here, no
// consumer ever drains it) rejects the call right away instead of
// stalling the dispatcher's single cooperative loop.
func TestServerMethodBusyRejectsImmediately(t *testing.T) {
	srv, tr := newTestServer(t)

	_, err := srv.RegisterMethod("say_hello", 0)
	require.NoError(t, err)

	tr.deliver(ConnectionID(1), []byte(`{"jsonrpc":"2.0","method":"say_hello","id":1}`))
	waitUntil(t, time.Second, func() bool { return len(tr.finishedTo(ConnectionID(1))) > 0 })
	require.Contains(t, string(tr.finishedTo(ConnectionID(1))[0]), "\"code\":0")

	// The busy reply must not have blocked later requests on other
	// connections from being processed by the same background task.
	tr.deliver(ConnectionID(2), []byte(`{"jsonrpc":"2.0","method":"bar","id":2}`))
	waitUntil(t, time.Second, func() bool { return len(tr.finishedTo(ConnectionID(2))) > 0 })
	require.Contains(t, string(tr.finishedTo(ConnectionID(2))[0]), "\"code\":-32601")
}

