// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import "encoding/json"

// elemID is a dispatcher-assigned handle for one request inside a batch
// (spec.md §3, RawRequestRef). It is distinct from the client-supplied
// JSON-RPC id, which may repeat across connections or batches.
type elemID uint64

// pendingElem is one request awaiting a response inside a batch.
type pendingElem struct {
	batchID  uint64
	request  *message
	response *message // nil until set
}

// batch is an ordered set of in-flight requests delivered together on one
// transport message, tagged with the originating connection (spec.md §3).
type batch struct {
	id       uint64
	connID   *ConnectionID // nil once the connection has closed (I2)
	isBatch  bool          // single request vs. JSON array batch, for wire shape
	elems    []elemID
	total    int
	answered int
}

// batchEvent is the internal event queue entry produced by inject() and
// consumed by next_event() (spec.md §4.1).
type batchEvent interface{ isBatchEvent() }

type evtNotification struct{ msg *message }
type evtRequest struct{ elem elemID }
type evtReadyToSend struct {
	response []byte
	connID   *ConnectionID
}

func (evtNotification) isBatchEvent()  {}
func (evtRequest) isBatchEvent()       {}
func (evtReadyToSend) isBatchEvent()   {}

// batchTracker implements spec.md §4.1. It is exclusively owned by the
// dispatcher's single cooperative task and is never locked internally.
type batchTracker struct {
	nextBatchID uint64
	nextElemID  elemID

	batches map[uint64]*batch
	elems   map[elemID]*pendingElem

	queue []batchEvent
}

func newBatchTracker() *batchTracker {
	return &batchTracker{
		batches: make(map[uint64]*batch),
		elems:   make(map[elemID]*pendingElem),
	}
}

// inject parses a raw transport payload and enqueues a Notification event
// for every notification it contains and a Request event for every call.
// A malformed payload produces a parse-error or invalid-request event with
// no enclosing batch (spec.md S3/S4).
func (t *batchTracker) inject(payload []byte, connID ConnectionID) {
	msgs, isArray, err := parseRawMessage(payload)
	if err != nil {
		t.queue = append(t.queue, evtReadyToSend{
			response: mustMarshal(errorMessage(parseError(err.Error()))),
			connID:   &connID,
		})
		return
	}
	if isArray && len(msgs) == 0 {
		t.queue = append(t.queue, evtReadyToSend{
			response: mustMarshal(errorMessage(invalidRequestError("empty batch"))),
			connID:   &connID,
		})
		return
	}

	b := &batch{id: t.nextBatchID, connID: &connID, isBatch: isArray}
	t.nextBatchID++

	var malformed []elemID
	for _, msg := range msgs {
		switch {
		case msg == nil:
			continue
		case msg.isNotification():
			// A notification never needs a reply and is surfaced exactly
			// once; it plays no part in batch completion (spec.md §4.1).
			t.queue = append(t.queue, evtNotification{msg: msg})
		case msg.isCall():
			id := t.trackElem(b, msg)
			t.queue = append(t.queue, evtRequest{elem: id})
		default:
			// Malformed element (bad id shape, missing method): still owes
			// a reply so the batch can complete, but it is answered
			// immediately with invalid-request.
			malformed = append(malformed, t.trackElem(b, msg))
		}
	}

	if b.total > 0 {
		t.batches[b.id] = b
		batchSizeHistogram.Observe(float64(b.total))
	}
	for _, id := range malformed {
		t.setResponse(id, t.elems[id].request.errorResponse(invalidRequestError("invalid request")))
	}
}

func (t *batchTracker) trackElem(b *batch, msg *message) elemID {
	id := t.nextElemID
	t.nextElemID++
	t.elems[id] = &pendingElem{batchID: b.id, request: msg}
	b.elems = append(b.elems, id)
	b.total++
	return id
}

// nextEvent pops the next queued batchEvent, or returns ok=false if empty.
func (t *batchTracker) nextEvent() (batchEvent, bool) {
	if len(t.queue) == 0 {
		return nil, false
	}
	ev := t.queue[0]
	t.queue = t.queue[1:]
	return ev, true
}

// requestByID re-borrows a still-pending request. Returns ok=false if the
// id is unknown or already answered.
func (t *batchTracker) requestByID(id elemID) (*message, bool) {
	pe, ok := t.elems[id]
	if !ok || pe.response != nil {
		return nil, false
	}
	return pe.request, true
}

// connectionOf returns the connection id tag for the batch containing elem,
// or ok=false if it has already been nulled (I2).
func (t *batchTracker) connectionOf(id elemID) (ConnectionID, bool) {
	pe, ok := t.elems[id]
	if !ok {
		return 0, false
	}
	b, ok := t.batches[pe.batchID]
	if !ok || b.connID == nil {
		return 0, false
	}
	return *b.connID, true
}

// setResponse fills in the response slot for elem. If it completes the
// enclosing batch, a ReadyToSend event is enqueued (spec.md P3).
func (t *batchTracker) setResponse(id elemID, resp *message) {
	pe, ok := t.elems[id]
	if !ok || pe.response != nil {
		return
	}
	pe.response = resp
	b, ok := t.batches[pe.batchID]
	if !ok {
		return
	}
	b.answered++
	if b.answered < b.total {
		return
	}

	// Batch complete: build the combined reply (unless the connection has
	// already closed, I2) and emit ReadyToSend.
	defer t.releaseBatch(b)
	if b.connID == nil {
		return
	}
	t.queue = append(t.queue, evtReadyToSend{
		response: t.marshalBatch(b),
		connID:   b.connID,
	})
}

func (t *batchTracker) marshalBatch(b *batch) []byte {
	answers := make([]*message, 0, len(b.elems))
	for _, id := range b.elems {
		if pe, ok := t.elems[id]; ok && pe.response != nil {
			answers = append(answers, pe.response)
		}
	}
	if !b.isBatch {
		if len(answers) == 0 {
			return nil
		}
		return mustMarshal(answers[0])
	}
	return mustMarshal(answers)
}

func (t *batchTracker) releaseBatch(b *batch) {
	for _, id := range b.elems {
		delete(t.elems, id)
	}
	delete(t.batches, b.id)
}

// batchesForConnection returns every in-flight batch tagged with connID,
// for use by closeConnection when nulling connection tags (spec.md I2).
func (t *batchTracker) batchesForConnection(connID ConnectionID) []*batch {
	var out []*batch
	for _, b := range t.batches {
		if b.connID != nil && *b.connID == connID {
			out = append(out, b)
		}
	}
	return out
}

// clearConnection nulls b's connection tag; the batch is dropped silently
// if it later completes, per spec.md I2/§4.1.
func (t *batchTracker) clearConnection(b *batch) {
	b.connID = nil
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Every value passed here originates from our own message type,
		// whose fields are all already-valid JSON or primitives.
		panic("rpc: failed to marshal internally constructed message: " + err.Error())
	}
	return data
}
