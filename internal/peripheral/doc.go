// Package peripheral implements the peripheral-role (GATT server) side of a BLE device.
//
// The package coordinates three concerns per characteristic that otherwise race:
//   - application updates of the current value
//   - value-changed notifications to subscribers under transport flow control
//   - incoming write requests delivered to application code through a bounded stream
//
// Transports (see internal/transport/goble) implement Transport and translate platform
// callbacks into the Delegate methods of MutableCharacteristic. PeripheralManager owns the
// services, fans out readiness signals and completes write requests.
package peripheral
