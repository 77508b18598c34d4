package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/stingray/internal/bledb"
)

// Advertisement is the part of a scan result the CLI needs to pick sensors.
type Advertisement struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	Services    []string
}

// NewAdvertisement copies the fields of adv.
func NewAdvertisement(adv ble.Advertisement) Advertisement {
	services := make([]string, 0, len(adv.Services()))
	for _, svc := range adv.Services() {
		services = append(services, bledb.NormalizeUUID(svc.String()))
	}
	return Advertisement{
		Address:     adv.Addr().String(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    services,
	}
}

// IsSensor reports whether the advertisement announces the sensor control service.
func (a Advertisement) IsSensor() bool {
	control := bledb.NormalizeUUID(bledb.ControlService)
	for _, svc := range a.Services {
		if svc == control {
			return true
		}
	}
	return false
}
