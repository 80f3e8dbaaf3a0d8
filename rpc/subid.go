// Copyright 2016 The go-ethereum Authors
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
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// subscriptionIDLen is the number of random bytes backing a SubscriptionID,
// per spec.md §3 ("SubscriptionId: 32 random bytes").
const subscriptionIDLen = 32

// SubscriptionID identifies a live subscription. It is never constructed
// directly by application code; the subscription registry assigns one on
// subscribe (spec.md §4.2).
type SubscriptionID [subscriptionIDLen]byte

// String returns the base58 wire encoding of the id (spec.md §6).
func (id SubscriptionID) String() string {
	return base58.Encode(id[:])
}

func (id SubscriptionID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// ParseSubscriptionID decodes a base58 subscription id. Decoded byte slices
// shorter than subscriptionIDLen are left-padded with zero bytes, as
// spec.md §4.2 requires.
func ParseSubscriptionID(s string) (SubscriptionID, error) {
	decoded, err := base58.Decode(s)
	if err != nil {
		return SubscriptionID{}, fmt.Errorf("invalid subscription id %q: %w", s, err)
	}
	if len(decoded) > subscriptionIDLen {
		return SubscriptionID{}, fmt.Errorf("subscription id %q is too long", s)
	}
	var id SubscriptionID
	copy(id[subscriptionIDLen-len(decoded):], decoded)
	return id, nil
}

// randomSubscriptionID samples subscriptionIDLen random bytes from crypto/rand.
func randomSubscriptionID() (SubscriptionID, error) {
	var id SubscriptionID
	if _, err := rand.Read(id[:]); err != nil {
		return SubscriptionID{}, err
	}
	return id, nil
}
