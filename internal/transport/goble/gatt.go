package goble

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/peripheral"
)

// BuildService converts a hosted service into its go-ble GATT declaration with handlers
// bound to this server.
func (s *Server) BuildService(svc *peripheral.MutableService) (*ble.Service, error) {
	_, su, err := peripheral.ParseUUID(svc.UUID())
	if err != nil {
		return nil, err
	}
	bs := ble.NewService(su)

	for _, c := range svc.Characteristics() {
		_, cu, err := peripheral.ParseUUID(c.UUID())
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.UUID(), err)
		}
		bc := ble.NewCharacteristic(cu)

		if c.PropertyEnabled(peripheral.PropertyRead) {
			bc.HandleRead(s.readHandler(c))
		}
		if c.PropertyEnabled(peripheral.PropertyWrite | peripheral.PropertyWriteNR) {
			bc.HandleWrite(s.writeHandler(c))
		}
		if c.PropertyEnabled(peripheral.PropertyNotify) {
			bc.HandleNotify(s.notifyHandler(c))
		}
		if c.PropertyEnabled(peripheral.PropertyIndicate) {
			bc.HandleIndicate(s.notifyHandler(c))
		}

		// Handlers set broad property bits; the declaration must match the characteristic.
		bc.Property = c.Properties()
		bc.Secure = secureProperties(c)

		bs.AddCharacteristic(bc)
	}
	return bs, nil
}

// secureProperties maps encryption-required permissions to go-ble's Secure bits.
func secureProperties(c *peripheral.MutableCharacteristic) ble.Property {
	var secure ble.Property
	if c.PermissionEnabled(peripheral.PermissionReadEncryptionRequired) {
		secure |= c.Properties() & ble.CharRead
	}
	if c.PermissionEnabled(peripheral.PermissionWriteEncryptionRequired) {
		secure |= c.Properties() & (ble.CharWrite | ble.CharWriteNR | ble.CharNotify | ble.CharIndicate)
	}
	return secure
}

// Serve registers every hosted service with a go-ble device and advertises name until ctx
// is cancelled.
func (s *Server) Serve(ctx context.Context, name string) error {
	dev, err := DeviceFactory()
	if err != nil {
		s.logger.WithField("error", err).Error("Failed to create BLE device")
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	defer func() {
		if stopErr := dev.Stop(); stopErr != nil {
			s.logger.WithField("error", stopErr).Warn("Failed to stop BLE device")
		}
	}()

	var advertised []ble.UUID
	for _, svc := range s.manager.Services() {
		bs, err := s.BuildService(svc)
		if err != nil {
			return err
		}
		if err := dev.AddService(bs); err != nil {
			return fmt.Errorf("failed to add service %s: %w", svc.UUID(), err)
		}
		advertised = append(advertised, bs.UUID)
		s.logger.WithFields(logrus.Fields{
			"service":         svc.UUID(),
			"name":            svc.Name(),
			"characteristics": len(bs.Characteristics),
		}).Debug("GATT service registered")
	}

	s.logger.WithFields(logrus.Fields{
		"name":     name,
		"services": len(advertised),
	}).Info("Advertising peripheral...")

	err = dev.AdvertiseNameAndServices(ctx, name, advertised...)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("advertising failed: %w", err)
	}
	return nil
}
