package rpc

import (
	"context"
	"sync"
)

// fakeTransport is an in-memory rpc.Transport used by this package's own
// tests in place of a real WebSocket connection.
type fakeTransport struct {
	events chan TransportEvent

	mu       sync.Mutex
	sent     map[ConnectionID][][]byte
	finished map[ConnectionID][][]byte
	resuming map[ConnectionID]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:   make(chan TransportEvent, 64),
		sent:     make(map[ConnectionID][][]byte),
		finished: make(map[ConnectionID][][]byte),
		resuming: make(map[ConnectionID]bool),
	}
}

func (f *fakeTransport) deliver(id ConnectionID, payload []byte) {
	f.mu.Lock()
	if _, ok := f.resuming[id]; !ok {
		f.resuming[id] = true
	}
	f.mu.Unlock()
	f.events <- TransportRequest{ID: id, Payload: payload}
}

func (f *fakeTransport) closeConn(id ConnectionID) {
	f.events <- TransportClosed{ID: id}
}

func (f *fakeTransport) Events() <-chan TransportEvent { return f.events }

func (f *fakeTransport) Send(ctx context.Context, id ConnectionID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = append(f.sent[id], data)
	return nil
}

func (f *fakeTransport) Finish(ctx context.Context, id ConnectionID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data != nil {
		f.finished[id] = append(f.finished[id], data)
	}
	return nil
}

func (f *fakeTransport) SupportsResuming(id ConnectionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resuming[id]
}

func (f *fakeTransport) sentTo(id ConnectionID) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[id]...)
}

func (f *fakeTransport) finishedTo(id ConnectionID) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.finished[id]...)
}
