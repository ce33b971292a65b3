package peripheral

import "sync/atomic"

// DeliveryState is the state of a characteristic's notification delivery subsystem.
type DeliveryState int

const (
	// StateIdle means no subscribers; updates are retained (latest only) but not sent.
	StateIdle DeliveryState = iota
	// StateReady means at least one subscriber and the transport is accepting values.
	StateReady
	// StateBlocked means at least one subscriber and deliveries are queued until readiness.
	StateBlocked
)

func (s DeliveryState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// DeliveryStats is a snapshot of per-characteristic delivery counters.
type DeliveryStats struct {
	Delivered  int64 // values accepted by the transport
	Queued     int64 // values placed on the notification queue
	Rejected   int64 // delivery attempts refused by transport flow control
	Superseded int64 // queued values discarded in favor of a newer one while idle
}

// deliveryStats provides lock-free counters for DeliveryStats.
type deliveryStats struct {
	delivered  atomic.Int64
	queued     atomic.Int64
	rejected   atomic.Int64
	superseded atomic.Int64
}

func (s *deliveryStats) snapshot() DeliveryStats {
	return DeliveryStats{
		Delivered:  s.delivered.Load(),
		Queued:     s.queued.Load(),
		Rejected:   s.rejected.Load(),
		Superseded: s.superseded.Load(),
	}
}
