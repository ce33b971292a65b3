package peripheral

import (
	"context"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
)

// ATTError is the attribute protocol status returned to a central for a write request.
type ATTError = ble.ATTError

// WriteRequest is a single incoming write from a central.
//
// Transports whose platform needs a synchronous status (the ATT write response) block in
// Wait until the application calls RespondToRequest, or give up on their own deadline.
type WriteRequest struct {
	ID                 string
	CharacteristicUUID string
	Data               []byte
	Offset             int
	WithoutResponse    bool

	result    chan ATTError
	responded atomic.Bool
}

// NewWriteRequest creates a write request with a fresh correlation ID.
func NewWriteRequest(charUUID string, data []byte, offset int, withoutResponse bool) *WriteRequest {
	return &WriteRequest{
		ID:                 uuid.NewString(),
		CharacteristicUUID: NormalizeUUID(charUUID),
		Data:               cloneBytes(data),
		Offset:             offset,
		WithoutResponse:    withoutResponse,
		result:             make(chan ATTError, 1),
	}
}

// IncomingWrite pairs a write request with the central that issued it.
type IncomingWrite struct {
	Request *WriteRequest
	Peer    Peer
}

// resolve records the response. Only the first call wins.
func (r *WriteRequest) resolve(status ATTError) error {
	if !r.responded.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	r.result <- status
	return nil
}

// Responded reports whether a response has been recorded.
func (r *WriteRequest) Responded() bool {
	return r.responded.Load()
}

// Wait blocks until the request is responded to or ctx ends.
func (r *WriteRequest) Wait(ctx context.Context) (ATTError, error) {
	select {
	case status := <-r.result:
		return status, nil
	case <-ctx.Done():
		return ble.ErrUnlikely, ctx.Err()
	}
}
