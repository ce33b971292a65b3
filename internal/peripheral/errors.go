package peripheral

import (
	"errors"
	"fmt"
)

// NotFoundError represents an error when a GATT resource is not registered with the manager
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Lifecycle errors
var (
	ErrNotAttached             = errors.New("characteristic is not attached to a peripheral manager")
	ErrDuplicateService        = errors.New("service already registered")
	ErrDuplicateCharacteristic = errors.New("characteristic already registered")
	ErrInvalidUUID             = errors.New("invalid UUID")
)

// Write request errors
var (
	ErrNoWriteConsumer  = errors.New("no write request consumer registered")
	ErrStreamFull       = errors.New("write stream is full")
	ErrStreamClosed     = errors.New("write stream is closed")
	ErrAlreadyResponded = errors.New("write request already responded")
	ErrResponseTimeout  = errors.New("timed out waiting for write response")
)
