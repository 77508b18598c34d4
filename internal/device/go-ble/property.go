package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/stingray/internal/device"
)

var propertyBits = []struct {
	ble ble.Property
	dev device.Properties
}{
	{ble.CharRead, device.PropRead},
	{ble.CharWrite, device.PropWrite},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
}

// NewProperties converts go-ble characteristic property flags. Broadcast,
// signed write and extended properties have no session meaning and are dropped.
func NewProperties(p ble.Property) device.Properties {
	var out device.Properties
	for _, b := range propertyBits {
		if p&b.ble != 0 {
			out |= b.dev
		}
	}
	return out
}
