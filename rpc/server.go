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
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// RequestID is the exported, long-lived handle on a request surfaced to
// application code. It numerically aliases the dispatcher's internal
// elemID (spec.md §9, "applications ... hold a plain id and re-resolve it
// via request_by_id").
type RequestID uint64

// MethodCall is one call delivered to a RegisteredMethod's queue.
type MethodCall struct {
	ID     RequestID
	Params json.RawMessage
}

// ctrlMsg is the union of control messages the front-end sends into the
// background task's unbounded queue (spec.md §4.5).
type ctrlMsg interface{ isCtrlMsg() }

type ctrlRegisterMethod struct {
	name string
	sink chan MethodCall
}

type ctrlRegisterNotification struct {
	name        string
	sink        chan Notification
	allowLosses bool
}

type ctrlRegisterSubscription struct {
	uniqueID        uint64
	subscribeName   string
	unsubscribeName string
}

type ctrlAnswerRequest struct {
	id     RequestID
	result interface{}
	err    error
}

type ctrlSendOutNotif struct {
	uniqueID uint64
	value    interface{}
}

type ctrlClose struct{}

func (ctrlRegisterMethod) isCtrlMsg()       {}
func (ctrlRegisterNotification) isCtrlMsg() {}
func (ctrlRegisterSubscription) isCtrlMsg() {}
func (ctrlAnswerRequest) isCtrlMsg()        {}
func (ctrlSendOutNotif) isCtrlMsg()         {}
func (ctrlClose) isCtrlMsg()                {}

// serverShared is the state a Server handle and all its clones point at.
// Cloning a Server is just copying the pointer (spec.md §5, "cheap
// clonable handle").
type serverShared struct {
	ctrl *unboundedQueue[ctrlMsg]

	namesMu sync.Mutex
	names   mapset.Set[string]

	nextUniqueID uint64

	localAddr string
	log       *zap.Logger
}

// Server is the Layer B front-end (spec.md §2, §6 "front-end surface").
// It is cheap to copy and share across goroutines; every clone talks to
// the same background task through the same control queue.
type Server struct {
	shared *serverShared
}

// NewServer starts the background task over transport and returns the
// front-end handle. localAddr is reported by LocalAddr and carries no
// other meaning for the dispatcher.
func NewServer(transport Transport, localAddr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	shared := &serverShared{
		ctrl:      newUnboundedQueue[ctrlMsg](),
		names:     mapset.NewSet[string](),
		localAddr: localAddr,
		log:       log,
	}
	bt := &backgroundTask{
		raw:                NewRawServer(transport, log),
		log:                log,
		ctrl:               shared.ctrl,
		methods:            make(map[string]chan MethodCall),
		notifications:      make(map[string]notifSink),
		subscribeMethods:   make(map[string]uint64),
		unsubscribeMethods: make(map[string]uint64),
		subscribers:        make(map[uint64]mapset.Set[SubscriptionID]),
		subToUnique:        make(map[SubscriptionID]uint64),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go bt.run(ctx, cancel)
	return &Server{shared: shared}
}

// Clone returns a new handle sharing this Server's background task.
func (s *Server) Clone() *Server {
	return &Server{shared: s.shared}
}

// LocalAddr reports the address the transport is listening on, as given
// to NewServer (spec.md §6).
func (s *Server) LocalAddr() string {
	return s.shared.localAddr
}

// Close terminates the background task after its next idle point
// (spec.md §5, "Cancellation").
func (s *Server) Close() {
	s.shared.ctrl.push(ctrlClose{})
}

// reserveName enforces I4's name-uniqueness synchronously, before any
// round trip to the background task.
func (s *Server) reserveName(name string) error {
	s.shared.namesMu.Lock()
	defer s.shared.namesMu.Unlock()
	if s.shared.names.Contains(name) {
		return &MethodAlreadyRegisteredError{Name: name}
	}
	s.shared.names.Add(name)
	return nil
}

func (s *Server) releaseName(name string) {
	s.shared.namesMu.Lock()
	defer s.shared.namesMu.Unlock()
	s.shared.names.Remove(name)
}

// RegisteredMethod is the handle returned by RegisterMethod.
type RegisteredMethod struct {
	name  string
	calls chan MethodCall
	srv   *Server
}

// RegisterMethod reserves name and tells the background task to route
// matching requests to the returned handle's Next.
func (s *Server) RegisterMethod(name string, queueSize int) (*RegisteredMethod, error) {
	if err := s.reserveName(name); err != nil {
		return nil, err
	}
	sink := make(chan MethodCall, queueSize)
	if !s.shared.ctrl.push(ctrlRegisterMethod{name: name, sink: sink}) {
		s.releaseName(name)
		return nil, ErrInternal
	}
	return &RegisteredMethod{name: name, calls: sink, srv: s}, nil
}

// Next blocks until a call arrives or ctx is done.
func (m *RegisteredMethod) Next(ctx context.Context) (MethodCall, bool) {
	select {
	case call, open := <-m.calls:
		return call, open
	case <-ctx.Done():
		return MethodCall{}, false
	}
}

// Respond answers the call identified by id.
func (m *RegisteredMethod) Respond(id RequestID, result interface{}, err error) error {
	if !m.srv.shared.ctrl.push(ctrlAnswerRequest{id: id, result: result, err: err}) {
		return ErrInternal
	}
	return nil
}

// notifSink pairs a registered notification's queue with its
// backpressure policy (spec.md §4.5, "allow_losses").
type notifSink struct {
	ch          chan Notification
	allowLosses bool
}

// RegisteredNotification is the handle returned by RegisterNotification.
type RegisteredNotification struct {
	name string
	sink chan Notification
}

// RegisterNotification reserves name and tells the background task to
// route matching inbound notifications to the returned handle's Next.
// If allowLosses is true a full queue silently drops the newest
// notification rather than blocking the background task.
func (s *Server) RegisterNotification(name string, queueSize int, allowLosses bool) (*RegisteredNotification, error) {
	if err := s.reserveName(name); err != nil {
		return nil, err
	}
	sink := make(chan Notification, queueSize)
	if !s.shared.ctrl.push(ctrlRegisterNotification{name: name, sink: sink, allowLosses: allowLosses}) {
		s.releaseName(name)
		return nil, ErrInternal
	}
	return &RegisteredNotification{name: name, sink: sink}, nil
}

// Next blocks until a notification arrives or ctx is done.
func (n *RegisteredNotification) Next(ctx context.Context) (Notification, bool) {
	select {
	case v, open := <-n.sink:
		return v, open
	case <-ctx.Done():
		return Notification{}, false
	}
}

// RegisteredSubscription is the handle returned by RegisterSubscription.
// Subscribe and unsubscribe requests are routed and answered entirely by
// the background task (spec.md §4.5); the only operation application
// code performs on this handle is broadcasting a value to every current
// subscriber.
type RegisteredSubscription struct {
	uniqueID uint64
	srv      *Server
}

// RegisterSubscription reserves both names as one atomic pair (I4): if
// reserving unsubscribeName fails, subscribeName is released too.
func (s *Server) RegisterSubscription(subscribeName, unsubscribeName string, queueSize int) (*RegisteredSubscription, error) {
	if err := s.reserveName(subscribeName); err != nil {
		return nil, err
	}
	if err := s.reserveName(unsubscribeName); err != nil {
		s.releaseName(subscribeName)
		return nil, err
	}
	uniqueID := atomic.AddUint64(&s.shared.nextUniqueID, 1)
	msg := ctrlRegisterSubscription{uniqueID: uniqueID, subscribeName: subscribeName, unsubscribeName: unsubscribeName}
	if !s.shared.ctrl.push(msg) {
		s.releaseName(subscribeName)
		s.releaseName(unsubscribeName)
		return nil, ErrInternal
	}
	return &RegisteredSubscription{uniqueID: uniqueID, srv: s}, nil
}

// Send broadcasts value to every subscriber currently attached to this
// subscription (spec.md §4.5, "SendOutNotif").
func (rsub *RegisteredSubscription) Send(value interface{}) error {
	if !rsub.srv.shared.ctrl.push(ctrlSendOutNotif{uniqueID: rsub.uniqueID, value: value}) {
		return ErrInternal
	}
	return nil
}

// backgroundTask is the single cooperative owner of the registered-
// handler maps (spec.md §2 Layer B, §4.5). Nothing outside its own run
// loop touches these fields.
type backgroundTask struct {
	raw *RawServer
	log *zap.Logger

	ctrl *unboundedQueue[ctrlMsg]

	methods            map[string]chan MethodCall
	notifications      map[string]notifSink
	subscribeMethods   map[string]uint64 // method name -> unique id
	unsubscribeMethods map[string]uint64 // method name -> unique id

	subscribers map[uint64]mapset.Set[SubscriptionID] // ActiveSubscribers
	subToUnique map[SubscriptionID]uint64             // inverse of subscribers (I5)
}

// run drives the background task until ctx is cancelled, either by a
// ctrlClose message or by the caller.
func (bt *backgroundTask) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	defer bt.ctrl.close()

	events := make(chan Event)
	go func() {
		defer close(events)
		for {
			ev, err := bt.raw.Next(ctx)
			if err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bt.ctrl.wait():
			for {
				msg, ok := bt.ctrl.pop()
				if !ok {
					break
				}
				if _, isClose := msg.(ctrlClose); isClose {
					cancel()
					continue
				}
				bt.handleCtrl(ctx, msg)
			}
		case ev, open := <-events:
			if !open {
				return
			}
			bt.handleEvent(ctx, ev)
		}
	}
}

func (bt *backgroundTask) handleCtrl(ctx context.Context, msg ctrlMsg) {
	switch m := msg.(type) {
	case ctrlRegisterMethod:
		bt.methods[m.name] = m.sink
	case ctrlRegisterNotification:
		bt.notifications[m.name] = notifSink{ch: m.sink, allowLosses: m.allowLosses}
	case ctrlRegisterSubscription:
		bt.subscribeMethods[m.subscribeName] = m.uniqueID
		bt.unsubscribeMethods[m.unsubscribeName] = m.uniqueID
		bt.subscribers[m.uniqueID] = mapset.NewSet[SubscriptionID]()
	case ctrlAnswerRequest:
		if req, ok := bt.raw.requestByID(elemID(m.id)); ok {
			req.Respond(m.result, m.err)
		}
	case ctrlSendOutNotif:
		bt.broadcast(ctx, m.uniqueID, m.value)
	}
}

func (bt *backgroundTask) broadcast(ctx context.Context, uniqueID uint64, value interface{}) {
	set, ok := bt.subscribers[uniqueID]
	if !ok {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		bt.log.Error("marshal subscription value", zap.Error(err))
		return
	}
	for id := range set.Iter() {
		bt.raw.Push(ctx, id, data)
	}
}

func (bt *backgroundTask) handleEvent(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case Notification:
		bt.dispatchNotification(ctx, e)
	case RequestRef:
		bt.dispatchRequest(ctx, e)
	case SubscriptionsReady:
		// Ignored by this layer (spec.md §4.5).
	case SubscriptionsClosed:
		for _, id := range e.IDs {
			uniqueID, ok := bt.subToUnique[id]
			if !ok {
				continue
			}
			delete(bt.subToUnique, id)
			if set, ok := bt.subscribers[uniqueID]; ok {
				set.Remove(id)
			}
		}
	}
}

func (bt *backgroundTask) dispatchNotification(ctx context.Context, n Notification) {
	sink, ok := bt.notifications[n.Method]
	if !ok {
		return
	}
	if sink.allowLosses {
		select {
		case sink.ch <- n:
		default:
			bt.log.Debug("dropped notification on full queue", zap.String("method", n.Method))
			droppedNotificationsCounter.WithLabelValues(n.Method).Inc()
		}
		return
	}
	select {
	case sink.ch <- n:
	case <-ctx.Done():
	}
}

func (bt *backgroundTask) dispatchRequest(ctx context.Context, req RequestRef) {
	if sink, ok := bt.methods[req.Method]; ok {
		call := MethodCall{ID: RequestID(req.elem), Params: req.Params}
		select {
		case sink <- call:
		default:
			req.Respond(nil, serverErrorBusy)
		}
		return
	}

	if uniqueID, ok := bt.subscribeMethods[req.Method]; ok {
		id, err := req.IntoSubscription(ctx)
		if err != nil {
			// Silently skip on failure (spec.md §4.5).
			return
		}
		bt.subToUnique[id] = uniqueID
		bt.subscribers[uniqueID].Add(id)
		return
	}

	if uniqueID, ok := bt.unsubscribeMethods[req.Method]; ok {
		id, err := parseSubscriptionIDParam(req.Params)
		if err != nil {
			req.Respond(nil, invalidParamsError(err.Error()))
			return
		}
		if set, ok := bt.subscribers[uniqueID]; ok {
			set.Remove(id)
		}
		delete(bt.subToUnique, id)
		bt.raw.CloseSubscription(ctx, id)
		req.Respond(true, nil)
		return
	}

	req.Respond(nil, methodNotFoundError(req.Method))
}
