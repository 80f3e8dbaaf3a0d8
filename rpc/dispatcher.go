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

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// Event is the union of values RawServer.Next can return (spec.md §2,
// "Notification, Request, SubscriptionsReady, SubscriptionsClosed").
type Event interface{ isDispatchEvent() }

// Notification is a surfaced JSON-RPC notification; it never needs a
// reply.
type Notification struct {
	Method string
	Params json.RawMessage
}

// RequestRef is a borrowed handle onto one still-pending request. It must
// not outlive the next call to RawServer.Next (spec.md §3, "Ownership").
type RequestRef struct {
	rs   *RawServer
	elem elemID

	Method string
	Params json.RawMessage
}

// SubscriptionsReady lists every subscription on ConnID whose pending flag
// the dispatcher just cleared (spec.md I3).
type SubscriptionsReady struct {
	ConnID ConnectionID
	IDs    []SubscriptionID
}

// SubscriptionsClosed lists every subscription id torn down because its
// connection went away.
type SubscriptionsClosed struct {
	ConnID ConnectionID
	IDs    []SubscriptionID
}

func (Notification) isDispatchEvent()        {}
func (RequestRef) isDispatchEvent()          {}
func (SubscriptionsReady) isDispatchEvent()  {}
func (SubscriptionsClosed) isDispatchEvent() {}

// RawServer is the Layer A raw dispatcher (spec.md §2). It owns the batch
// tracker, the subscription registry, and the transport. Borrowed views it
// hands out (RequestRef, the *message embedded in events) must not outlive
// the next call to Next.
type RawServer struct {
	transport Transport
	batches   *batchTracker
	subs      *subscriptionRegistry
	log       *zap.Logger

	// lastReady is a one-shot slot set by handleReadyToSend so that Next
	// can yield a SubscriptionsReady event mid-drain without turning the
	// drain loop into a coroutine.
	lastReady *SubscriptionsReady
}

// NewRawServer wires a RawServer around an already-running Transport.
func NewRawServer(transport Transport, log *zap.Logger) *RawServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &RawServer{
		transport: transport,
		batches:   newBatchTracker(),
		subs:      newSubscriptionRegistry(),
		log:       log,
	}
}

// Next implements the event loop state machine of spec.md §4.3. It blocks
// until an Event is ready or ctx is done.
func (rs *RawServer) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := rs.batches.nextEvent(); ok {
			switch e := ev.(type) {
			case evtNotification:
				return Notification{Method: e.msg.Method, Params: e.msg.Params}, nil
			case evtRequest:
				req, ok := rs.batches.requestByID(e.elem)
				if !ok {
					continue
				}
				return RequestRef{rs: rs, elem: e.elem, Method: req.Method, Params: req.Params}, nil
			case evtReadyToSend:
				rs.handleReadyToSend(ctx, e)
				if ev, ready := rs.pendingReadyEvent(); ready {
					return ev, nil
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case tev, open := <-rs.transport.Events():
			if !open {
				return nil, errors.New("rpc: transport closed")
			}
			switch e := tev.(type) {
			case TransportRequest:
				rs.batches.inject(e.Payload, e.ID)
			case TransportClosed:
				if closedEv, ok := rs.handleConnectionClosed(e.ID); ok {
					return closedEv, nil
				}
			}
		}
	}
}

// pendingReadyEvent lets handleReadyToSend hand a SubscriptionsReady event
// back up to Next without duplicating the drain logic.
func (rs *RawServer) pendingReadyEvent() (Event, bool) {
	if rs.lastReady == nil {
		return nil, false
	}
	ev := *rs.lastReady
	rs.lastReady = nil
	return ev, true
}

// handleReadyToSend implements the ReadyToSend branch of spec.md §4.3: pick
// send vs. finish depending on whether any subscription still references
// the connection, and stage a SubscriptionsReady event if any pending
// subscriptions were just cleared.
func (rs *RawServer) handleReadyToSend(ctx context.Context, e evtReadyToSend) {
	if e.connID == nil {
		// Connection already closed (I2): drop the response silently.
		return
	}
	connID := *e.connID
	if rs.subs.hasLiveSubscriptions(connID) {
		if err := rs.transport.Send(ctx, connID, e.response); err != nil {
			rs.log.Debug("send failed, awaiting transport close", zap.Uint64("conn", uint64(connID)), zap.Error(err))
			return
		}
		if ready := rs.subs.markReady(connID); len(ready) > 0 {
			rs.lastReady = &SubscriptionsReady{ConnID: connID, IDs: ready}
		}
		return
	}
	if err := rs.transport.Finish(ctx, connID, e.response); err != nil {
		rs.log.Debug("finish failed, awaiting transport close", zap.Uint64("conn", uint64(connID)), zap.Error(err))
	}
}

// handleConnectionClosed implements spec.md §4.2 "Connection loss" and
// §4.3's Closed branch.
func (rs *RawServer) handleConnectionClosed(connID ConnectionID) (SubscriptionsClosed, bool) {
	for _, b := range rs.batches.batchesForConnection(connID) {
		rs.batches.clearConnection(b)
	}
	dropped := rs.subs.dropConnection(connID)
	if len(dropped) == 0 {
		return SubscriptionsClosed{}, false
	}
	return SubscriptionsClosed{ConnID: connID, IDs: dropped}, true
}

// requestByID re-borrows a RequestRef for a request surfaced earlier,
// letting the registered-handler layer answer it asynchronously long
// after the originating Next() call returned (spec.md §4.1,
// "request_by_id"). ok is false if the request was already answered or
// never existed.
func (rs *RawServer) requestByID(id elemID) (RequestRef, bool) {
	req, ok := rs.batches.requestByID(id)
	if !ok {
		return RequestRef{}, false
	}
	return RequestRef{rs: rs, elem: id, Method: req.Method, Params: req.Params}, true
}

// Respond answers req. If err is non-nil it is normalized into a JSON-RPC
// error response; result is ignored in that case.
func (req RequestRef) Respond(result interface{}, err error) {
	var resp *message
	orig, ok := req.rs.batches.requestByID(req.elem)
	if !ok {
		// Stale: the batch already completed or the request id is unknown.
		// Silent drop per spec.md §4.1.
		return
	}
	if err != nil {
		resp = orig.errorResponse(err)
	} else {
		resp = orig.response(result)
	}
	req.rs.batches.setResponse(req.elem, resp)
}

// IntoSubscription promotes req into a subscription, the only way a
// SubscriptionID is created (spec.md §4.4).
func (req RequestRef) IntoSubscription(ctx context.Context) (SubscriptionID, error) {
	connID, ok := req.rs.batches.connectionOf(req.elem)
	if !ok {
		return SubscriptionID{}, ErrAlreadyClosed
	}
	if !req.rs.transport.SupportsResuming(connID) {
		return SubscriptionID{}, ErrNotSupported
	}
	id, err := req.rs.subs.create(connID, req.Method)
	if err != nil {
		return SubscriptionID{}, err
	}
	req.Respond(id, nil)
	return id, nil
}

// Push sends a subscription notification. It is a silent no-op if id is
// unknown or still pending (spec.md §4.2, "Pending gate").
func (rs *RawServer) Push(ctx context.Context, id SubscriptionID, result json.RawMessage) {
	if !rs.subs.canPush(id) {
		return
	}
	st, ok := rs.subs.get(id)
	if !ok {
		return
	}
	data := mustMarshal(subscriptionNotification(st.method, id, result))
	if err := rs.transport.Send(ctx, st.connID, data); err != nil {
		rs.log.Debug("subscription push failed, awaiting transport close", zap.Error(err))
	}
}

// CloseSubscription implements the "Explicit close" policy of spec.md
// §4.2.
func (rs *RawServer) CloseSubscription(ctx context.Context, id SubscriptionID) {
	res, ok := rs.subs.close(id)
	if !ok {
		return
	}
	if res.shouldFinish {
		if err := rs.transport.Finish(ctx, res.connID, nil); err != nil {
			rs.log.Debug("finish on subscription close failed", zap.Error(err))
		}
	}
}
