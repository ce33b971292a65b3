package peripheral

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// subscriberRegistry tracks the centrals subscribed to value-changed notifications.
// Keys are unique; snapshots are returned in subscription order.
// Not safe for concurrent use, guarded by the owning characteristic.
type subscriberRegistry struct {
	peers *orderedmap.OrderedMap[PeerID, Peer]
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{peers: orderedmap.New[PeerID, Peer]()}
}

// add inserts or refreshes peer. Reports whether the peer was new.
func (r *subscriberRegistry) add(peer Peer) bool {
	_, present := r.peers.Set(peer.Identifier(), peer)
	return !present
}

// remove deletes peer by identity. Reports whether it was present.
func (r *subscriberRegistry) remove(peer Peer) bool {
	_, present := r.peers.Delete(peer.Identifier())
	return present
}

func (r *subscriberRegistry) len() int {
	return r.peers.Len()
}

func (r *subscriberRegistry) snapshot() []Peer {
	out := make([]Peer, 0, r.peers.Len())
	for pair := r.peers.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
