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

import "context"

// ConnectionID is an opaque, hashable, copyable token identifying one
// client connection. It is assigned and interpreted by the Transport
// implementation; the dispatcher never looks inside it (spec.md §3).
type ConnectionID uint64

// Transport is the collaborator the raw dispatcher is built on top of
// (spec.md §6, "Out of scope ... the transport server"). A concrete
// implementation (e.g. package transport, backed by gorilla/websocket)
// produces Requests/Closed events through Events and is driven by Send,
// Finish, and SupportsResuming.
type Transport interface {
	// Events returns the channel of inbound events: TransportRequest and
	// TransportClosed values. It is closed when the transport itself shuts
	// down.
	Events() <-chan TransportEvent

	// Send writes bytes to the connection and keeps it open for further
	// writes. Used for batch replies that still have live subscriptions,
	// and for subscription pushes.
	Send(ctx context.Context, id ConnectionID, data []byte) error

	// Finish writes an optional final payload and then releases the
	// connection slot. Called once nothing further will ever be written
	// to id.
	Finish(ctx context.Context, id ConnectionID, data []byte) error

	// SupportsResuming reports whether multiple writes on id are possible,
	// i.e. whether id can host a subscription (spec.md §6).
	SupportsResuming(id ConnectionID) bool
}

// TransportEvent is the union of events a Transport can produce.
type TransportEvent interface {
	isTransportEvent()
}

// TransportRequest carries one raw inbound message (request, notification,
// or batch thereof) delivered on connection ID.
type TransportRequest struct {
	ID      ConnectionID
	Payload []byte
}

// TransportClosed reports that the connection ID has gone away. No further
// Send/Finish call on that id will succeed.
type TransportClosed struct {
	ID ConnectionID
}

func (TransportRequest) isTransportEvent() {}
func (TransportClosed) isTransportEvent()  {}
