package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/blimp/internal/transport/goble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards bytes.Buffer for concurrent writer and reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStatusLineRedrawsAndClears(t *testing.T) {
	var out syncBuffer
	calls := 0
	var mu sync.Mutex
	s := NewStatusLine(&out, "Advertising blimp", func() string {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return "1 subscribed"
	})
	s.interval = 10 * time.Millisecond

	s.Start()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, 5*time.Millisecond, "status MUST be polled on every tick")
	s.Stop()
	s.Stop()

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "\rAdvertising blimp (1 subscribed, 0s)"), "got %q", got)
	assert.True(t, strings.HasSuffix(got, clearLineSequence), "Stop MUST clear the line")
	assert.Equal(t, 1, strings.Count(got, clearLineSequence), "second Stop MUST be a no-op")
}

func TestStatusLineStartTwicePanics(t *testing.T) {
	s := NewStatusLine(&syncBuffer{}, "x", func() string { return "" })
	s.Start()
	defer s.Stop()
	assert.Panics(t, func() { s.Start() })
}

func TestServeStatus(t *testing.T) {
	got := serveStatus(goble.ServerStats{Subscriptions: 2, Notifications: 17, WritesAccepted: 3})
	assert.Equal(t, "2 subscribed, 17 sent, 3 writes", got)
}
