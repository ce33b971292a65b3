package config

import (
	"testing"

	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfile(t *testing.T) {
	p, err := LoadProfile("")
	require.NoError(t, err)

	services, err := p.ServiceProfiles()
	require.NoError(t, err)
	require.Len(t, services, 2)

	hr := services[0]
	assert.Equal(t, "180d", hr.UUID)
	require.Len(t, hr.Characteristics, 1)
	assert.Equal(t, []byte{0, 60}, hr.Characteristics[0].InitialValue)
	assert.Equal(t, peripheral.PropertyRead|peripheral.PropertyNotify, hr.Characteristics[0].Properties)

	uart := services[1]
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e", uart.UUID)
	assert.Equal(t, peripheral.PermissionWriteable, uart.Characteristics[0].Permissions)
}

func TestLoadProfileFile(t *testing.T) {
	path := testutils.WriteTempFile(t, "profile.yaml", `
services:
  - uuid: "0x180F"
    name: Battery
    characteristics:
      - uuid: 2A19
        name: Battery Level
        value: 100
        string_values: [low, high]
`)
	p, err := LoadProfile(path)
	require.NoError(t, err)

	services, err := p.ServiceProfiles()
	require.NoError(t, err)
	c := services[0].Characteristics[0]
	assert.Equal(t, "2a19", c.UUID)
	assert.Equal(t, []byte{100}, c.InitialValue)
	assert.Equal(t, []string{"low", "high"}, c.StringValues)
	assert.True(t, c.Properties&peripheral.PropertyNotify != 0, "omitted properties MUST use read/write/notify")

	svc, err := peripheral.NewServiceFromProfile(services[0])
	require.NoError(t, err)
	assert.Equal(t, "Battery", svc.Name())
}

func TestServiceProfiles_Errors(t *testing.T) {
	tests := map[string]string{
		"bad service uuid": "services:\n  - uuid: nope\n",
		"bad char uuid":    "services:\n  - uuid: 180d\n    characteristics:\n      - uuid: x\n",
		"bad property":     "services:\n  - uuid: 180d\n    characteristics:\n      - uuid: 2a37\n        properties: [fly]\n",
		"bad permission":   "services:\n  - uuid: 180d\n    characteristics:\n      - uuid: 2a37\n        permissions: [root]\n",
		"bad value":        "services:\n  - uuid: 180d\n    characteristics:\n      - uuid: 2a37\n        value: [1, 999]\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := ParseProfile([]byte(content))
			require.NoError(t, err)
			_, err = p.ServiceProfiles()
			assert.Error(t, err)
		})
	}

	_, err := ParseProfile([]byte("services: []\n"))
	assert.Error(t, err, "empty profile MUST be rejected")
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    []byte
		wantErr bool
	}{
		{name: "nil", in: nil, want: nil},
		{name: "hex", in: "0x0A ff", want: []byte{0x0a, 0xff}},
		{name: "text", in: "hi", want: []byte("hi")},
		{name: "int", in: 7, want: []byte{7}},
		{name: "list", in: []any{1, "2", 3.0}, want: []byte{1, 2, 3}},
		{name: "bad hex", in: "0xZZ", wantErr: true},
		{name: "out of range", in: 256, wantErr: true},
		{name: "negative", in: []any{-1}, wantErr: true},
		{name: "map", in: map[string]any{"a": 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
