package peripheral

// CharacteristicProfile describes a characteristic before it is instantiated: identity,
// capability bits and the value it starts with. Profiles are plain data and can be shared
// between several MutableCharacteristic instances.
type CharacteristicProfile struct {
	UUID         string
	Name         string
	Properties   Properties
	Permissions  Permissions
	InitialValue []byte
	StringValues []string // optional enumerated display values
}

// NewCharacteristicProfile returns a profile with read/write/notify capabilities,
// which is the most common shape for application-defined characteristics.
func NewCharacteristicProfile(uuid string) *CharacteristicProfile {
	return &CharacteristicProfile{
		UUID:        uuid,
		Properties:  PropertyRead | PropertyWrite | PropertyNotify,
		Permissions: PermissionReadable | PermissionWriteable,
	}
}

// ServiceProfile groups characteristic profiles under a service UUID.
type ServiceProfile struct {
	UUID            string
	Name            string
	Characteristics []*CharacteristicProfile
}
