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
	"encoding/json"
	"fmt"
)

const vsn = "2.0"

// message is the wire representation of a JSON-RPC 2.0 request, notification,
// or response. Which one it is depends on which fields are set: a request
// has a non-nil ID and a Method; a notification has a Method and a nil ID;
// a response has a nil Method and a non-nil Result or Error.
type message struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (m *message) isNotification() bool { return m.ID == nil && m.Method != "" }
func (m *message) isCall() bool         { return m.hasValidID() && m.Method != "" }
func (m *message) isResponse() bool     { return m.hasValidID() && m.Method == "" }
func (m *message) hasValidID() bool     { return len(m.ID) > 0 && m.ID[0] != '{' && m.ID[0] != '[' }

func (m *message) response(result interface{}) *message {
	enc, err := json.Marshal(result)
	if err != nil {
		return m.errorResponse(newError(errcodeInternal, "marshal result: %v", err))
	}
	return &message{Version: vsn, ID: m.ID, Result: enc}
}

func (m *message) errorResponse(err error) *message {
	rpcErr, ok := err.(*Error)
	if !ok {
		rpcErr = newError(errcodeInternal, "%v", err)
	}
	return &message{Version: vsn, ID: m.ID, Error: rpcErr}
}

// errorMessage builds a standalone error response with no associated
// request id, used for parse errors (spec.md §6: "parse-error with id null").
func errorMessage(err error) *message {
	rpcErr, ok := err.(*Error)
	if !ok {
		rpcErr = newError(errcodeInternal, "%v", err)
	}
	return &message{Version: vsn, ID: json.RawMessage("null"), Error: rpcErr}
}

// subscriptionParams is the payload of a server-initiated subscription
// notification, per spec.md §6:
//
//	{"jsonrpc":"2.0","method":<origin_method>,
//	 "params":{"subscription":<base58-id>,"result":<value>}}
type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func subscriptionNotification(method string, subID SubscriptionID, result json.RawMessage) *message {
	params, _ := json.Marshal(&subscriptionParams{Subscription: subID.String(), Result: result})
	return &message{Version: vsn, Method: method, Params: params}
}

// parseRawMessage decodes a raw inbound transport payload into either a
// single message or a batch of them, distinguishing the two the way the
// JSON-RPC 2.0 spec requires: a batch is a top-level JSON array.
func parseRawMessage(raw []byte) (msgs []*message, isBatch bool, err error) {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty request")
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, true, err
		}
		return msgs, true, nil
	}
	var single message
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, false, err
	}
	return []*message{&single}, false, nil
}

func trimLeadingSpace(raw []byte) []byte {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\r', '\n':
			i++
			continue
		}
		break
	}
	return raw[i:]
}

// parseSubscriptionIDParam extracts an unsubscribe id from the params of an
// unsubscribe call. spec.md §6: "either as the first positional parameter
// or under the key 'subscription'".
func parseSubscriptionIDParam(params json.RawMessage) (SubscriptionID, error) {
	var asString string
	if err := json.Unmarshal(params, &asString); err == nil {
		return ParseSubscriptionID(asString)
	}
	var asArray []json.RawMessage
	if err := json.Unmarshal(params, &asArray); err == nil && len(asArray) > 0 {
		var s string
		if err := json.Unmarshal(asArray[0], &s); err == nil {
			return ParseSubscriptionID(s)
		}
	}
	var asObject struct {
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(params, &asObject); err == nil && asObject.Subscription != "" {
		return ParseSubscriptionID(asObject.Subscription)
	}
	return SubscriptionID{}, fmt.Errorf("no subscription id found in params")
}
