package peripheral

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ----------------------------
// MutableCharacteristic
// ----------------------------

// MutableCharacteristic is a characteristic hosted by the local peripheral.
//
// Value, the updating flag, the subscriber registry, the notification queue and the write
// stream registration form one unit of mutual exclusion guarded by mu. Application updates
// and transport callbacks (subscribe, unsubscribe, ready-to-update, incoming write) all
// funnel through it, so the check-then-deliver sequence in Update cannot race with a
// readiness signal.
type MutableCharacteristic struct {
	profile     CharacteristicProfile
	uuid        string
	properties  Properties
	permissions Permissions

	mu          sync.Mutex
	value       []byte
	updating    bool
	subscribers *subscriberRegistry
	queue       notificationQueue
	writes      *WriteStream
	retired     []*WriteStream // stopped streams that may still hold unread requests

	// service is a non-owning back reference set when the characteristic is added to a service.
	service atomic.Pointer[MutableService]
	stats   deliveryStats
}

// CharacteristicOption configures a MutableCharacteristic at construction.
type CharacteristicOption func(*MutableCharacteristic)

// WithInitialValue overrides the profile's initial value.
func WithInitialValue(value []byte) CharacteristicOption {
	return func(c *MutableCharacteristic) {
		c.value = cloneBytes(value)
	}
}

// NewMutableCharacteristic creates a characteristic from a profile.
// The profile UUID must already be valid; see NewCharacteristic for validated construction.
func NewMutableCharacteristic(profile *CharacteristicProfile, opts ...CharacteristicOption) *MutableCharacteristic {
	c := &MutableCharacteristic{
		profile:     *profile,
		uuid:        NormalizeUUID(profile.UUID),
		properties:  profile.Properties,
		permissions: profile.Permissions,
		value:       cloneBytes(profile.InitialValue),
		subscribers: newSubscriberRegistry(),
	}
	c.profile.InitialValue = cloneBytes(profile.InitialValue)
	c.profile.StringValues = append([]string(nil), profile.StringValues...)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewCharacteristic creates a characteristic from explicit parameters.
func NewCharacteristic(uuid string, props Properties, perms Permissions, value []byte, opts ...CharacteristicOption) (*MutableCharacteristic, error) {
	normalized, _, err := ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("characteristic: %w", err)
	}
	profile := &CharacteristicProfile{
		UUID:         normalized,
		Properties:   props,
		Permissions:  perms,
		InitialValue: value,
	}
	return NewMutableCharacteristic(profile, opts...), nil
}

// CharacteristicsFromProfiles creates one characteristic per profile.
func CharacteristicsFromProfiles(profiles []*CharacteristicProfile) []*MutableCharacteristic {
	chars := make([]*MutableCharacteristic, 0, len(profiles))
	for _, p := range profiles {
		chars = append(chars, NewMutableCharacteristic(p))
	}
	return chars
}

// ----------------------------
// Identity & capabilities
// ----------------------------

// UUID returns the normalized characteristic UUID.
func (c *MutableCharacteristic) UUID() string {
	return c.uuid
}

func (c *MutableCharacteristic) Name() string {
	return c.profile.Name
}

// Profile returns a copy of the profile the characteristic was built from.
func (c *MutableCharacteristic) Profile() CharacteristicProfile {
	p := c.profile
	p.InitialValue = cloneBytes(c.profile.InitialValue)
	p.StringValues = append([]string(nil), c.profile.StringValues...)
	return p
}

func (c *MutableCharacteristic) Properties() Properties {
	return c.properties
}

func (c *MutableCharacteristic) Permissions() Permissions {
	return c.permissions
}

// PropertyEnabled reports whether any of the given property bits is set.
func (c *MutableCharacteristic) PropertyEnabled(p Properties) bool {
	return c.properties&p != 0
}

// PermissionEnabled reports whether any of the given permission bits is set.
func (c *MutableCharacteristic) PermissionEnabled(p Permissions) bool {
	return c.permissions&p != 0
}

// CanNotify reports whether value-changed pushes (notify or indicate) are permitted.
func (c *MutableCharacteristic) CanNotify() bool {
	return c.PropertyEnabled(PropertyNotify | PropertyIndicate)
}

// Service returns the hosting service, nil when detached.
func (c *MutableCharacteristic) Service() *MutableService {
	return c.service.Load()
}

// ----------------------------
// State snapshots
// ----------------------------

// Value returns a copy of the current value.
func (c *MutableCharacteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneBytes(c.value)
}

// SetValue replaces the current value without notifying subscribers.
func (c *MutableCharacteristic) SetValue(value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = cloneBytes(value)
}

// IsUpdating reports whether the last delivery attempt was accepted by the transport.
func (c *MutableCharacteristic) IsUpdating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updating
}

// Subscribers returns the subscribed centrals in subscription order.
func (c *MutableCharacteristic) Subscribers() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribers.snapshot()
}

// PendingUpdates returns a copy of the queued notification values.
func (c *MutableCharacteristic) PendingUpdates() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.snapshot()
}

// State returns the delivery subsystem state derived from the current snapshot.
func (c *MutableCharacteristic) State() DeliveryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.subscribers.len() == 0:
		return StateIdle
	case c.updating:
		return StateReady
	default:
		return StateBlocked
	}
}

// Stats returns a snapshot of the delivery counters.
func (c *MutableCharacteristic) Stats() DeliveryStats {
	return c.stats.snapshot()
}

// ----------------------------
// Notification updates
// ----------------------------

// Update sets value as current and tries to push it to subscribers.
// Returns true if the transport accepted it, false if it was queued. The value is
// current either way.
func (c *MutableCharacteristic) Update(value []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deliverLocked([][]byte{value})
}

// deliverLocked runs the delivery algorithm over values. c.mu must be held.
func (c *MutableCharacteristic) deliverLocked(values [][]byte) bool {
	if len(values) == 0 {
		return c.updating
	}

	last := values[len(values)-1]
	c.value = cloneBytes(last)

	m := c.manager()
	var transport Transport
	if m != nil {
		transport = m.Transport()
	}

	if transport != nil && c.subscribers.len() > 0 && c.updating && c.CanNotify() {
		for i, v := range values {
			if transport.AttemptDeliver(v, c) {
				c.stats.delivered.Add(1)
				m.record(c.uuid, JournalDelivered, v)
				continue
			}

			// Stop at the first rejection. The rejected value and everything after it
			// wait for the next readiness signal, in order.
			c.updating = false
			backlog := values[i:]
			c.queue.push(backlog...)
			c.stats.rejected.Add(1)
			c.stats.queued.Add(int64(len(backlog)))
			m.record(c.uuid, JournalRejected, v)
			c.log().WithFields(logrus.Fields{
				"characteristic": c.uuid,
				"queued":         c.queue.len(),
			}).Debug("Transport rejected notification, queueing backlog")
			break
		}
		return c.updating
	}

	c.updating = false
	if c.subscribers.len() > 0 && c.CanNotify() && transport != nil {
		// Blocked: keep submission order for the next drain.
		c.queue.push(last)
	} else {
		// Idle: only the latest value is retained for an eventual subscriber.
		if superseded := c.queue.replace(last); superseded > 0 {
			c.stats.superseded.Add(int64(superseded))
			m.record(c.uuid, JournalSuperseded, nil)
		}
	}
	c.stats.queued.Add(1)
	m.record(c.uuid, JournalQueued, last)
	return false
}

// drainLocked re-arms delivery and replays the whole backlog. c.mu must be held.
func (c *MutableCharacteristic) drainLocked() {
	c.updating = c.subscribers.len() > 0
	c.deliverLocked(c.queue.takeAll())
}

// ----------------------------
// Transport delegate callbacks
// ----------------------------

// OnTransportReadyToUpdate is called when the transport has room for another notification.
func (c *MutableCharacteristic) OnTransportReadyToUpdate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue.len() == 0 && c.updating {
		return
	}
	c.drainLocked()
}

// OnSubscribe registers peer for notifications and delivers any pending value.
func (c *MutableCharacteristic) OnSubscribe(peer Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	isNew := c.subscribers.add(peer)
	c.log().WithFields(logrus.Fields{
		"characteristic": c.uuid,
		"peer":           peer.Identifier(),
		"new":            isNew,
		"subscribers":    c.subscribers.len(),
	}).Debug("Central subscribed")
	c.drainLocked()
}

// OnUnsubscribe removes peer. With no subscribers left further updates are queued.
func (c *MutableCharacteristic) OnUnsubscribe(peer Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers.remove(peer)
	if c.subscribers.len() == 0 {
		c.updating = false
	}
	c.log().WithFields(logrus.Fields{
		"characteristic": c.uuid,
		"peer":           peer.Identifier(),
		"subscribers":    c.subscribers.len(),
	}).Debug("Central unsubscribed")
}

// ----------------------------
// Write requests
// ----------------------------

// StartAcceptingWrites registers the write request consumer and returns its stream.
// capacity bounds the queued requests; Unbounded or a non-positive value means no bound.
// If a stream is already active it is returned unchanged and capacity is ignored.
func (c *MutableCharacteristic) StartAcceptingWrites(capacity int) *WriteStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writes != nil {
		return c.writes
	}
	c.writes = newWriteStream(context.Background(), c.uuid, capacity)
	for _, old := range c.retired {
		old.handOver(c.writes)
	}
	c.retired = nil
	return c.writes
}

// StopAcceptingWrites clears the consumer registration and refuses new requests. Requests
// already queued on the old stream are delivered to whoever reads it; whatever is still
// unread when a new consumer registers moves to the new stream.
func (c *MutableCharacteristic) StopAcceptingWrites() {
	c.mu.Lock()
	s := c.writes
	c.writes = nil
	if s != nil {
		c.retired = append(c.pruneRetiredLocked(), s)
	}
	c.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// abandonWrites stops the active and every retired stream, discarding their backlog.
func (c *MutableCharacteristic) abandonWrites() {
	c.mu.Lock()
	streams := c.retired
	if c.writes != nil {
		streams = append(streams, c.writes)
	}
	c.writes = nil
	c.retired = nil
	c.mu.Unlock()
	for _, s := range streams {
		s.abandon()
	}
}

// pruneRetiredLocked drops retired streams whose pump has already exited.
func (c *MutableCharacteristic) pruneRetiredLocked() []*WriteStream {
	live := c.retired[:0]
	for _, s := range c.retired {
		select {
		case <-s.Done():
		default:
			live = append(live, s)
		}
	}
	return live
}

// WriteStream returns the active write stream, nil when none is registered.
func (c *MutableCharacteristic) WriteStream() *WriteStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// OnIncomingWrite hands a write to the active consumer.
// Returns false without buffering when no consumer is registered or the stream is full.
func (c *MutableCharacteristic) OnIncomingWrite(req *WriteRequest, peer Peer) bool {
	return c.AcceptWrite(context.Background(), req, peer, OverflowReject) == nil
}

// AcceptWrite hands a write to the active consumer using the given overflow policy.
// Returns ErrNoWriteConsumer when nothing is registered.
func (c *MutableCharacteristic) AcceptWrite(ctx context.Context, req *WriteRequest, peer Peer, policy OverflowPolicy) error {
	c.mu.Lock()
	s := c.writes
	c.mu.Unlock()

	// Blocking policies wait outside the characteristic lock.
	if s == nil {
		return ErrNoWriteConsumer
	}
	if err := s.offer(ctx, IncomingWrite{Request: req, Peer: peer}, policy); err != nil {
		return fmt.Errorf("characteristic %s: %w", c.uuid, err)
	}
	return nil
}

// RespondToRequest forwards the response for req to the hosting manager.
func (c *MutableCharacteristic) RespondToRequest(req *WriteRequest, result ATTError) error {
	m := c.manager()
	if m == nil {
		return fmt.Errorf("characteristic %s: %w", c.uuid, ErrNotAttached)
	}
	return m.RespondToRequest(req, result)
}

// ----------------------------
// Helpers
// ----------------------------

func (c *MutableCharacteristic) manager() *PeripheralManager {
	if s := c.service.Load(); s != nil {
		return s.Manager()
	}
	return nil
}

func (c *MutableCharacteristic) log() *logrus.Logger {
	if m := c.manager(); m != nil {
		return m.logger
	}
	return detachedLogger
}

var detachedLogger = logrus.New()
