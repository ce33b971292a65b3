package peripheral

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Properties is the characteristic property bit set as advertised in the GATT declaration.
type Properties = ble.Property

// Characteristic property flags
const (
	PropertyBroadcast   = ble.CharBroadcast
	PropertyRead        = ble.CharRead
	PropertyWriteNR     = ble.CharWriteNR
	PropertyWrite       = ble.CharWrite
	PropertyNotify      = ble.CharNotify
	PropertyIndicate    = ble.CharIndicate
	PropertySignedWrite = ble.CharSignedWrite
	PropertyExtended    = ble.CharExtended
)

// Permissions is the attribute permission bit set enforced by the local server.
type Permissions uint8

const (
	PermissionReadable Permissions = 1 << iota
	PermissionWriteable
	PermissionReadEncryptionRequired
	PermissionWriteEncryptionRequired
)

var propertyNames = []struct {
	value Properties
	name  string
}{
	{PropertyBroadcast, "broadcast"},
	{PropertyRead, "read"},
	{PropertyWriteNR, "write-without-response"},
	{PropertyWrite, "write"},
	{PropertyNotify, "notify"},
	{PropertyIndicate, "indicate"},
	{PropertySignedWrite, "signed-write"},
	{PropertyExtended, "extended"},
}

var permissionNames = []struct {
	value Permissions
	name  string
}{
	{PermissionReadable, "readable"},
	{PermissionWriteable, "writeable"},
	{PermissionReadEncryptionRequired, "read-encryption-required"},
	{PermissionWriteEncryptionRequired, "write-encryption-required"},
}

// ParseProperties converts property names (e.g. "read", "notify") into a Properties bit set.
func ParseProperties(names []string) (Properties, error) {
	var p Properties
	for _, n := range names {
		found := false
		for _, pn := range propertyNames {
			if strings.EqualFold(strings.TrimSpace(n), pn.name) {
				p |= pn.value
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", n)
		}
	}
	return p, nil
}

// PropertyNames returns the names of all properties set in p, in declaration bit order.
func PropertyNames(p Properties) []string {
	var names []string
	for _, pn := range propertyNames {
		if p&pn.value != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

// ParsePermissions converts permission names (e.g. "readable") into a Permissions bit set.
func ParsePermissions(names []string) (Permissions, error) {
	var p Permissions
	for _, n := range names {
		found := false
		for _, pn := range permissionNames {
			if strings.EqualFold(strings.TrimSpace(n), pn.name) {
				p |= pn.value
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown attribute permission %q", n)
		}
	}
	return p, nil
}

// PermissionNames returns the names of all permissions set in p.
func PermissionNames(p Permissions) []string {
	var names []string
	for _, pn := range permissionNames {
		if p&pn.value != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Permissions) String() string {
	return strings.Join(PermissionNames(p), ",")
}
