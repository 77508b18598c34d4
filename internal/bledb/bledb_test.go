package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeUUID verifies that NormalizeUUID correctly handles various UUID formats
func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit short form", input: "180f", expected: "180f"},
		{name: "16-bit with 0x prefix", input: "0x180F", expected: "180f"},
		{name: "Full Bluetooth SIG UUID with dashes", input: "0000180f-0000-1000-8000-00805f9b34fb", expected: "180f"},
		{name: "Full Bluetooth SIG UUID without dashes", input: "0000180f00001000800000805f9b34fb", expected: "180f"},
		{name: "Vendor 128-bit UUID", input: "12345678-1234-5678-1234-56789ABCDEF1", expected: "12345678123456781234" + "56789abcdef1"},
		{name: "UUID with braces", input: "{00002a19-0000-1000-8000-00805f9b34fb}", expected: "2a19"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestCharacteristicRole(t *testing.T) {
	tests := []struct {
		service string
		char    string
		want    Role
	}{
		{ControlService, CommandChar, RoleCommand},
		{ControlService, ErrorChar, RoleError},
		{ControlService, FatigueChar, RoleFatigue},
		{ControlService, SampleRateChar, RoleSampleRate},
		{ControlService, ImuProfileChar, RoleImuProfile},
		{FifoService, FifoStreamChar, RoleFifoStream},
		{FifoService, FifoStatusChar, RoleFifoStatus},
		{FifoService, FifoChannelSetupChar, RoleFifoChannelSetup},
		{"0000180f-0000-1000-8000-00805f9b34fb", "00002a19-0000-1000-8000-00805f9b34fb", RoleBattery},
		// Characteristic from one service looked up under another.
		{FifoService, CommandChar, RoleUnrecognized},
		{"180d", "2a37", RoleUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CharacteristicRole(tt.service, tt.char))
		})
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "Stingray Control", ServiceName(ControlService))
	assert.Equal(t, "Battery Service", ServiceName("0x180F"))
	assert.Equal(t, "", ServiceName("ffff"))

	assert.Equal(t, "FIFO Status", CharacteristicName(FifoService, FifoStatusChar))
	assert.Equal(t, "", CharacteristicName("ffff", FifoStatusChar))
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "fifo-channel-setup", RoleFifoChannelSetup.String())
	assert.Equal(t, "unrecognized", Role(99).String())
}

func TestCharacteristicsOf(t *testing.T) {
	assert.Len(t, CharacteristicsOf(ControlService), 5)
	assert.Len(t, CharacteristicsOf(FifoService), 3)
	assert.Nil(t, CharacteristicsOf("ffff"))
}
