package peripheral

import (
	"fmt"
	"sync"
	"sync/atomic"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ----------------------------
// MutableService
// ----------------------------

// MutableService is a primary GATT service hosted by the local peripheral.
// It owns its characteristics; the manager it is added to is referenced, not owned.
type MutableService struct {
	uuid string
	name string

	mu              sync.RWMutex
	characteristics *orderedmap.OrderedMap[string, *MutableCharacteristic]

	manager atomic.Pointer[PeripheralManager]
}

// NewMutableService creates an empty service.
func NewMutableService(uuid, name string) (*MutableService, error) {
	normalized, _, err := ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	return &MutableService{
		uuid:            normalized,
		name:            name,
		characteristics: orderedmap.New[string, *MutableCharacteristic](),
	}, nil
}

// NewServiceFromProfile creates a service and its characteristics from a profile.
func NewServiceFromProfile(profile *ServiceProfile) (*MutableService, error) {
	svc, err := NewMutableService(profile.UUID, profile.Name)
	if err != nil {
		return nil, err
	}
	for _, cp := range profile.Characteristics {
		if _, _, err := ParseUUID(cp.UUID); err != nil {
			return nil, fmt.Errorf("service %s: characteristic: %w", svc.uuid, err)
		}
		if err := svc.AddCharacteristic(NewMutableCharacteristic(cp)); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *MutableService) UUID() string {
	return s.uuid
}

func (s *MutableService) Name() string {
	return s.name
}

// Manager returns the peripheral manager hosting this service, nil when not added.
func (s *MutableService) Manager() *PeripheralManager {
	return s.manager.Load()
}

// AddCharacteristic attaches c to the service.
func (s *MutableService) AddCharacteristic(c *MutableCharacteristic) error {
	if c.uuid == "" {
		return fmt.Errorf("service %s: %w: %q", s.uuid, ErrInvalidUUID, c.profile.UUID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manager.Load() != nil {
		return fmt.Errorf("service %s is already hosted: add characteristics before AddService", s.uuid)
	}
	if _, exists := s.characteristics.Get(c.uuid); exists {
		return fmt.Errorf("service %s: %w: %s", s.uuid, ErrDuplicateCharacteristic, c.uuid)
	}
	if other := c.service.Load(); other != nil && other != s {
		return fmt.Errorf("characteristic %s already belongs to service %s", c.uuid, other.uuid)
	}
	s.characteristics.Set(c.uuid, c)
	c.service.Store(s)
	return nil
}

// Characteristic looks up a characteristic by UUID in any accepted format.
func (s *MutableService) Characteristic(uuid string) (*MutableCharacteristic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.characteristics.Get(NormalizeUUID(uuid))
}

// Characteristics returns the characteristics in insertion order.
func (s *MutableService) Characteristics() []*MutableCharacteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*MutableCharacteristic, 0, s.characteristics.Len())
	for pair := s.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
