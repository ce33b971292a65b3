package peripheral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationQueue(t *testing.T) {
	t.Run("push keeps order and copies", func(t *testing.T) {
		var q notificationQueue
		a := []byte("a")
		q.push(a, []byte("b"))
		a[0] = 'x'

		assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, q.snapshot(), "queue MUST hold copies in push order")
		assert.Equal(t, 2, q.len())
	})

	t.Run("replace keeps only the latest", func(t *testing.T) {
		var q notificationQueue
		q.push([]byte("a"), []byte("b"))

		superseded := q.replace([]byte("c"))
		assert.Equal(t, 2, superseded)
		assert.Equal(t, [][]byte{[]byte("c")}, q.snapshot())

		assert.Equal(t, 1, q.replace([]byte("d")))
	})

	t.Run("takeAll empties the queue", func(t *testing.T) {
		var q notificationQueue
		q.push([]byte("a"))

		taken := q.takeAll()
		require.Len(t, taken, 1)
		assert.Equal(t, 0, q.len(), "queue MUST be empty after takeAll")
		assert.Empty(t, q.takeAll())
	})

	t.Run("snapshot is isolated", func(t *testing.T) {
		var q notificationQueue
		q.push([]byte("a"))
		snap := q.snapshot()
		snap[0][0] = 'z'
		assert.Equal(t, [][]byte{[]byte("a")}, q.snapshot())
	})
}

func TestSubscriberRegistry(t *testing.T) {
	r := newSubscriberRegistry()

	assert.True(t, r.add(RemotePeer{ID: "P1"}), "first add MUST report new")
	assert.True(t, r.add(RemotePeer{ID: "P2"}))
	assert.False(t, r.add(RemotePeer{ID: "P1"}), "repeated add MUST NOT duplicate")
	assert.Equal(t, 2, r.len())

	ids := func() []PeerID {
		var out []PeerID
		for _, p := range r.snapshot() {
			out = append(out, p.Identifier())
		}
		return out
	}
	assert.Equal(t, []PeerID{"P1", "P2"}, ids(), "snapshot MUST be in subscription order")

	assert.True(t, r.remove(RemotePeer{ID: "P1"}))
	assert.False(t, r.remove(RemotePeer{ID: "P1"}), "removing absent peer MUST report false")
	assert.Equal(t, []PeerID{"P2"}, ids())
}
