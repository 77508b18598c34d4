package bledb

import "sort"

// Role is the semantic meaning of a characteristic within the sensor protocol.
type Role int

const (
	RoleUnrecognized Role = iota
	RoleCommand
	RoleError
	RoleBattery
	RoleFatigue
	RoleSampleRate
	RoleImuProfile
	RoleFifoStream
	RoleFifoStatus
	RoleFifoChannelSetup
)

var roleNames = [...]string{
	RoleUnrecognized:     "unrecognized",
	RoleCommand:          "command",
	RoleError:            "error",
	RoleBattery:          "battery",
	RoleFatigue:          "fatigue",
	RoleSampleRate:       "sample-rate",
	RoleImuProfile:       "imu-profile",
	RoleFifoStream:       "fifo-stream",
	RoleFifoStatus:       "fifo-status",
	RoleFifoChannelSetup: "fifo-channel-setup",
}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return roleNames[RoleUnrecognized]
	}
	return roleNames[r]
}

// Service and characteristic UUIDs in canonical dashed form.
const (
	ControlService       = "12345678-1234-5678-1234-56789abcdef0"
	CommandChar          = "12345678-1234-5678-1234-56789abcdef1"
	ErrorChar            = "12345678-1234-5678-1234-56789abcdef2"
	FatigueChar          = "12345678-1234-5678-1234-56789abcdef3"
	SampleRateChar       = "12345678-1234-5678-1234-56789abcdef4"
	ImuProfileChar       = "12345678-1234-5678-1234-56789abcdef5"
	FifoService          = "12345679-1234-5678-1234-56789abcdef0"
	FifoStreamChar       = "12345679-1234-5678-1234-56789abcdef1"
	FifoStatusChar       = "12345679-1234-5678-1234-56789abcdef2"
	FifoChannelSetupChar = "12345679-1234-5678-1234-56789abcdef3"
	BatteryService       = "180f"
	BatteryLevelChar     = "2a19"
)

type charEntry struct {
	name string
	role Role
}

type serviceEntry struct {
	name  string
	chars map[string]charEntry
}

// catalog is keyed by normalized UUIDs.
var catalog = map[string]serviceEntry{
	NormalizeUUID(ControlService): {
		name: "Stingray Control",
		chars: map[string]charEntry{
			NormalizeUUID(CommandChar):    {"Command", RoleCommand},
			NormalizeUUID(ErrorChar):      {"Error Code", RoleError},
			NormalizeUUID(FatigueChar):    {"Fatigue Level", RoleFatigue},
			NormalizeUUID(SampleRateChar): {"Sample Rate", RoleSampleRate},
			NormalizeUUID(ImuProfileChar): {"IMU Profile", RoleImuProfile},
		},
	},
	NormalizeUUID(FifoService): {
		name: "Stingray FIFO",
		chars: map[string]charEntry{
			NormalizeUUID(FifoStreamChar):       {"FIFO Stream", RoleFifoStream},
			NormalizeUUID(FifoStatusChar):       {"FIFO Status", RoleFifoStatus},
			NormalizeUUID(FifoChannelSetupChar): {"FIFO Channel Setup", RoleFifoChannelSetup},
		},
	},
	NormalizeUUID(BatteryService): {
		name: "Battery Service",
		chars: map[string]charEntry{
			NormalizeUUID(BatteryLevelChar): {"Battery Level", RoleBattery},
		},
	},
}

// ServiceName returns the human-readable service name, or "" when unknown.
func ServiceName(serviceID string) string {
	return catalog[NormalizeUUID(serviceID)].name
}

// CharacteristicName returns the human-readable characteristic name within
// serviceID, or "" when unknown.
func CharacteristicName(serviceID, charID string) string {
	svc, ok := catalog[NormalizeUUID(serviceID)]
	if !ok {
		return ""
	}
	return svc.chars[NormalizeUUID(charID)].name
}

// CharacteristicRole resolves the role of a characteristic. Pairs outside the
// catalog are RoleUnrecognized.
func CharacteristicRole(serviceID, charID string) Role {
	svc, ok := catalog[NormalizeUUID(serviceID)]
	if !ok {
		return RoleUnrecognized
	}
	return svc.chars[NormalizeUUID(charID)].role
}

// ServicesOfInterest lists the services a transport should discover, in canonical form.
func ServicesOfInterest() []string {
	return []string{ControlService, FifoService, BatteryService}
}

// CharacteristicsOf lists the catalogued characteristics of serviceID in
// normalized form, sorted.
func CharacteristicsOf(serviceID string) []string {
	svc, ok := catalog[NormalizeUUID(serviceID)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(svc.chars))
	for id := range svc.chars {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
