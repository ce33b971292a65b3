package goble

import (
	"strings"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/srg/blimp/internal/peripheral"
)

// remoteConn is the part of ble.Conn the server needs to identify a central.
type remoteConn interface {
	RemoteAddr() ble.Addr
	TxMTU() int
}

// Central is a connected remote central as seen through go-ble.
type Central struct {
	id  peripheral.PeerID
	mtu int
}

func (c Central) Identifier() peripheral.PeerID {
	return c.id
}

// MTU returns the negotiated ATT MTU of the connection.
func (c Central) MTU() int {
	return c.mtu
}

// unknownPrefix marks identities of centrals whose connection carries no address.
const unknownPrefix = "UNKNOWN-"

// centralFromConn identifies a central by its upper-cased remote address. A connection
// without an address gets a fresh identity so it never shares a registry slot.
func centralFromConn(conn remoteConn) Central {
	if conn == nil || conn.RemoteAddr() == nil {
		return Central{id: peripheral.PeerID(unknownPrefix + uuid.NewString())}
	}
	return Central{
		id:  peripheral.PeerID(strings.ToUpper(conn.RemoteAddr().String())),
		mtu: conn.TxMTU(),
	}
}
