package peripheral

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ----------------------------
// PeripheralManager
// ----------------------------

// PeripheralManager hosts services and routes transport events to their characteristics.
//
// The flow-control token signalled by OnReadyToUpdate is shared by the whole peripheral, so
// readiness is fanned out to every characteristic; each one drains its own backlog under its
// own lock.
type PeripheralManager struct {
	logger *logrus.Logger

	mu       sync.RWMutex
	services *orderedmap.OrderedMap[string, *MutableService]

	// index resolves characteristic UUIDs from transport callback goroutines without mu.
	index *hashmap.Map[string, *MutableCharacteristic]

	transportMu sync.RWMutex
	transport   Transport

	journal *Journal
}

// ManagerOption configures a PeripheralManager.
type ManagerOption func(*PeripheralManager)

// WithTransport sets the notification transport.
func WithTransport(t Transport) ManagerOption {
	return func(m *PeripheralManager) {
		m.transport = t
	}
}

// WithJournal enables the delivery journal.
func WithJournal(j *Journal) ManagerOption {
	return func(m *PeripheralManager) {
		m.journal = j
	}
}

// NewPeripheralManager creates a manager with no services.
func NewPeripheralManager(logger *logrus.Logger, opts ...ManagerOption) *PeripheralManager {
	if logger == nil {
		logger = logrus.New()
	}
	m := &PeripheralManager{
		logger:   logger,
		services: orderedmap.New[string, *MutableService](),
		index:    hashmap.New[string, *MutableCharacteristic](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Logger returns the manager's logger.
func (m *PeripheralManager) Logger() *logrus.Logger {
	return m.logger
}

// SetTransport installs the notification transport. Transports are usually built after the
// manager because they need it for callbacks.
func (m *PeripheralManager) SetTransport(t Transport) {
	m.transportMu.Lock()
	defer m.transportMu.Unlock()
	m.transport = t
}

// Transport returns the installed transport, nil if none.
func (m *PeripheralManager) Transport() Transport {
	m.transportMu.RLock()
	defer m.transportMu.RUnlock()
	return m.transport
}

// Journal returns the delivery journal, nil when disabled.
func (m *PeripheralManager) Journal() *Journal {
	return m.journal
}

// ----------------------------
// Service registry
// ----------------------------

// AddService registers svc and indexes its characteristics.
// Characteristic UUIDs must be unique across the whole peripheral.
func (m *PeripheralManager) AddService(svc *MutableService) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.services.Get(svc.uuid); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, svc.uuid)
	}
	if other := svc.manager.Load(); other != nil && other != m {
		return fmt.Errorf("service %s is hosted by another peripheral manager", svc.uuid)
	}

	chars := svc.Characteristics()
	for _, c := range chars {
		if _, exists := m.index.Get(c.uuid); exists {
			return fmt.Errorf("service %s: %w: %s", svc.uuid, ErrDuplicateCharacteristic, c.uuid)
		}
	}

	m.services.Set(svc.uuid, svc)
	for _, c := range chars {
		m.index.Set(c.uuid, c)
	}
	svc.manager.Store(m)

	m.logger.WithFields(logrus.Fields{
		"service":         svc.uuid,
		"characteristics": len(chars),
	}).Debug("Service added")
	return nil
}

// RemoveService unregisters a service and stops its write streams.
func (m *PeripheralManager) RemoveService(uuid string) error {
	normalized := NormalizeUUID(uuid)

	m.mu.Lock()
	svc, ok := m.services.Get(normalized)
	if !ok {
		m.mu.Unlock()
		return &NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	m.services.Delete(normalized)
	for _, c := range svc.Characteristics() {
		m.index.Del(c.uuid)
	}
	svc.manager.Store(nil)
	m.mu.Unlock()

	for _, c := range svc.Characteristics() {
		c.StopAcceptingWrites()
	}
	return nil
}

// Services returns the registered services in insertion order.
func (m *PeripheralManager) Services() []*MutableService {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MutableService, 0, m.services.Len())
	for pair := m.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Characteristic resolves a characteristic by UUID.
func (m *PeripheralManager) Characteristic(uuid string) (*MutableCharacteristic, error) {
	c, ok := m.index.Get(NormalizeUUID(uuid))
	if !ok {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return c, nil
}

// Characteristics returns every hosted characteristic, service by service.
func (m *PeripheralManager) Characteristics() []*MutableCharacteristic {
	var out []*MutableCharacteristic
	for _, svc := range m.Services() {
		out = append(out, svc.Characteristics()...)
	}
	return out
}

// ----------------------------
// Transport event routing
// ----------------------------

// OnReadyToUpdate signals that the transport can accept notifications again.
func (m *PeripheralManager) OnReadyToUpdate() {
	for _, c := range m.Characteristics() {
		c.OnTransportReadyToUpdate()
	}
}

// Subscribe routes a subscribe event to the characteristic with the given UUID.
func (m *PeripheralManager) Subscribe(charUUID string, peer Peer) error {
	c, err := m.Characteristic(charUUID)
	if err != nil {
		return err
	}
	c.OnSubscribe(peer)
	return nil
}

// Unsubscribe routes an unsubscribe event to the characteristic with the given UUID.
func (m *PeripheralManager) Unsubscribe(charUUID string, peer Peer) error {
	c, err := m.Characteristic(charUUID)
	if err != nil {
		return err
	}
	c.OnUnsubscribe(peer)
	return nil
}

// IncomingWrite routes a write request to its characteristic using policy on overflow.
func (m *PeripheralManager) IncomingWrite(ctx context.Context, req *WriteRequest, peer Peer, policy OverflowPolicy) error {
	c, err := m.Characteristic(req.CharacteristicUUID)
	if err != nil {
		return err
	}
	if err := c.AcceptWrite(ctx, req, peer, policy); err != nil {
		m.logger.WithFields(logrus.Fields{
			"characteristic": c.uuid,
			"request_id":     req.ID,
			"peer":           peer.Identifier(),
			"error":          err,
		}).Debug("Write request not accepted")
		return err
	}
	return nil
}

// RespondToRequest completes req with result.
func (m *PeripheralManager) RespondToRequest(req *WriteRequest, result ATTError) error {
	if err := req.resolve(result); err != nil {
		return fmt.Errorf("request %s: %w", req.ID, err)
	}
	m.logger.WithFields(logrus.Fields{
		"characteristic": req.CharacteristicUUID,
		"request_id":     req.ID,
		"result":         result,
	}).Debug("Write request responded")
	return nil
}

// Close stops every write stream and discards undelivered requests.
func (m *PeripheralManager) Close() {
	for _, c := range m.Characteristics() {
		c.abandonWrites()
	}
}

func (m *PeripheralManager) record(uuid string, kind JournalKind, value []byte) {
	if m == nil || m.journal == nil {
		return
	}
	m.journal.Record(uuid, kind, value)
}
