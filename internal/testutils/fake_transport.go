package testutils

import (
	"sync"

	"github.com/srg/blimp/internal/peripheral"
)

// Delivery is one AttemptDeliver call seen by a FakeTransport.
type Delivery struct {
	CharacteristicUUID string
	Value              []byte
	Accepted           bool
}

// FakeTransport is a scriptable peripheral.Transport that records every delivery attempt.
//
// By default every attempt is accepted. Use Reject/Accept to flip the whole transport, or
// AcceptNext(n) to accept exactly n more attempts and reject the rest, which models a
// transport with n flow-control tokens left.
type FakeTransport struct {
	mu       sync.Mutex
	accept   bool
	credits  int // -1: unlimited
	attempts []Delivery
}

// NewFakeTransport creates a transport that accepts everything.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{accept: true, credits: -1}
}

func (f *FakeTransport) AttemptDeliver(value []byte, c *peripheral.MutableCharacteristic) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ok := f.accept
	if ok && f.credits >= 0 {
		if f.credits == 0 {
			ok = false
		} else {
			f.credits--
		}
	}

	v := make([]byte, len(value))
	copy(v, value)
	f.attempts = append(f.attempts, Delivery{CharacteristicUUID: c.UUID(), Value: v, Accepted: ok})
	return ok
}

// Accept makes every following attempt succeed.
func (f *FakeTransport) Accept() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accept = true
	f.credits = -1
}

// Reject makes every following attempt fail.
func (f *FakeTransport) Reject() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accept = false
}

// AcceptNext accepts exactly n more attempts, then rejects.
func (f *FakeTransport) AcceptNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accept = true
	f.credits = n
}

// Attempts returns every recorded attempt, accepted or not.
func (f *FakeTransport) Attempts() []Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Delivery(nil), f.attempts...)
}

// AttemptedValues returns the values of all attempts in call order.
func (f *FakeTransport) AttemptedValues() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, 0, len(f.attempts))
	for _, a := range f.attempts {
		out = append(out, a.Value)
	}
	return out
}

// DeliveredValues returns the values of accepted attempts in call order.
func (f *FakeTransport) DeliveredValues() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, a := range f.attempts {
		if a.Accepted {
			out = append(out, a.Value)
		}
	}
	return out
}

// Reset forgets recorded attempts without changing the accept mode.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = nil
}

// NewPeer returns a peripheral.Peer with the given identifier.
func NewPeer(id string) peripheral.Peer {
	return peripheral.RemotePeer{ID: peripheral.PeerID(id)}
}
