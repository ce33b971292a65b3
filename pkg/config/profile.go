package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cast"
	"github.com/srg/blimp/internal/peripheral"
	"gopkg.in/yaml.v3"
)

// Profile is the YAML description of the GATT database a peripheral hosts.
//
//	services:
//	  - uuid: 180d
//	    name: Heart Rate
//	    characteristics:
//	      - uuid: 2a37
//	        name: Heart Rate Measurement
//	        properties: [read, notify]
//	        permissions: [readable]
//	        value: "0x0048"
type Profile struct {
	Services []ServiceEntry `yaml:"services"`
}

// ServiceEntry is one service in a Profile.
type ServiceEntry struct {
	UUID            string                `yaml:"uuid"`
	Name            string                `yaml:"name"`
	Characteristics []CharacteristicEntry `yaml:"characteristics"`
}

// CharacteristicEntry is one characteristic in a Profile.
//
// Value accepts a "0x"-prefixed hex string, plain text, a single byte number or a list of
// byte numbers.
type CharacteristicEntry struct {
	UUID         string   `yaml:"uuid"`
	Name         string   `yaml:"name"`
	Properties   []string `yaml:"properties"`
	Permissions  []string `yaml:"permissions"`
	Value        any      `yaml:"value"`
	StringValues []string `yaml:"string_values"`
}

// DefaultProfileYAML is served when no profile is configured.
const DefaultProfileYAML = `services:
  - uuid: 180d
    name: Heart Rate
    characteristics:
      - uuid: 2a37
        name: Heart Rate Measurement
        properties: [read, notify]
        permissions: [readable]
        value: [0, 60]
  - uuid: 6e400001-b5a3-f393-e0a9-e50e24dcca9e
    name: Nordic UART
    characteristics:
      - uuid: 6e400002-b5a3-f393-e0a9-e50e24dcca9e
        name: RX
        properties: [write, write-without-response]
        permissions: [writeable]
      - uuid: 6e400003-b5a3-f393-e0a9-e50e24dcca9e
        name: TX
        properties: [read, notify]
        permissions: [readable]
`

// ParseProfile decodes a profile from YAML.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if len(p.Services) == 0 {
		return nil, fmt.Errorf("profile declares no services")
	}
	return &p, nil
}

// LoadProfile reads a profile file; an empty path yields the built-in default profile.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return ParseProfile([]byte(DefaultProfileYAML))
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand profile path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// ServiceProfiles converts the profile into validated peripheral service profiles.
func (p *Profile) ServiceProfiles() ([]*peripheral.ServiceProfile, error) {
	out := make([]*peripheral.ServiceProfile, 0, len(p.Services))
	for i, se := range p.Services {
		svcUUID, _, err := peripheral.ParseUUID(se.UUID)
		if err != nil {
			return nil, fmt.Errorf("services[%d]: %w", i, err)
		}
		sp := &peripheral.ServiceProfile{UUID: svcUUID, Name: se.Name}

		for j, ce := range se.Characteristics {
			cp, err := ce.characteristicProfile()
			if err != nil {
				return nil, fmt.Errorf("services[%d].characteristics[%d]: %w", i, j, err)
			}
			sp.Characteristics = append(sp.Characteristics, cp)
		}
		out = append(out, sp)
	}
	return out, nil
}

func (ce CharacteristicEntry) characteristicProfile() (*peripheral.CharacteristicProfile, error) {
	uuid, _, err := peripheral.ParseUUID(ce.UUID)
	if err != nil {
		return nil, err
	}
	cp := peripheral.NewCharacteristicProfile(uuid)
	cp.Name = ce.Name
	cp.StringValues = ce.StringValues

	if len(ce.Properties) > 0 {
		if cp.Properties, err = peripheral.ParseProperties(ce.Properties); err != nil {
			return nil, err
		}
	}
	if len(ce.Permissions) > 0 {
		if cp.Permissions, err = peripheral.ParsePermissions(ce.Permissions); err != nil {
			return nil, err
		}
	}
	if cp.InitialValue, err = DecodeValue(ce.Value); err != nil {
		return nil, fmt.Errorf("characteristic %s value: %w", uuid, err)
	}
	return cp, nil
}

// DecodeValue converts a YAML value into bytes.
func DecodeValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if hexStr, ok := strings.CutPrefix(strings.ToLower(val), "0x"); ok {
			b, err := hex.DecodeString(strings.ReplaceAll(hexStr, " ", ""))
			if err != nil {
				return nil, fmt.Errorf("invalid hex value %q: %w", val, err)
			}
			return b, nil
		}
		return []byte(val), nil
	case []any:
		out := make([]byte, 0, len(val))
		for i, item := range val {
			b, err := toByte(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, b)
		}
		return out, nil
	default:
		b, err := toByte(val)
		if err != nil {
			return nil, err
		}
		return []byte{b}, nil
	}
}

func toByte(v any) (byte, error) {
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("%d is not a byte", n)
	}
	return byte(n), nil
}
