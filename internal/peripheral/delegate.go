package peripheral

// Transport delivers notification values to subscribed centrals.
//
// AttemptDeliver must not block and must not call back into the characteristic: it is
// invoked while the characteristic lock is held. It returns true if a flow-control token
// was available and the value was handed off, false if the transport is saturated. A
// transport that returned false must later signal readiness through
// PeripheralManager.OnReadyToUpdate.
type Transport interface {
	AttemptDeliver(value []byte, c *MutableCharacteristic) bool
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(value []byte, c *MutableCharacteristic) bool

func (f TransportFunc) AttemptDeliver(value []byte, c *MutableCharacteristic) bool {
	return f(value, c)
}

// Delegate receives the push-style events a transport integration produces for a
// characteristic. Every method is serialized with application updates.
type Delegate interface {
	OnSubscribe(peer Peer)
	OnUnsubscribe(peer Peer)
	OnTransportReadyToUpdate()
	OnIncomingWrite(req *WriteRequest, peer Peer) bool
}

// Responder completes write requests on behalf of the application.
type Responder interface {
	RespondToRequest(req *WriteRequest, result ATTError) error
}

var (
	_ Delegate  = (*MutableCharacteristic)(nil)
	_ Responder = (*PeripheralManager)(nil)
)
