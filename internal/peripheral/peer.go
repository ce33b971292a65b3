package peripheral

// PeerID is the stable identity of a remote central. It is comparable and used as the
// subscriber registry key.
type PeerID string

// Peer is a remote central as seen by the local peripheral.
type Peer interface {
	Identifier() PeerID
}

// RemotePeer is a minimal Peer implementation for transports that only know an address.
type RemotePeer struct {
	ID PeerID
}

func (p RemotePeer) Identifier() PeerID {
	return p.ID
}
