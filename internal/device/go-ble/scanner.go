package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
)

// Scan listens for advertisements until ctx is done and returns one entry per
// address. Only sensors are returned unless all is set.
func Scan(ctx context.Context, all bool) ([]Advertisement, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	defer func() { _ = dev.Stop() }()

	var mu sync.Mutex
	seen := make(map[string]int)
	var found []Advertisement
	handler := func(raw ble.Advertisement) {
		adv := NewAdvertisement(raw)
		if !all && !adv.IsSensor() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if i, ok := seen[adv.Address]; ok {
			found[i] = adv
			return
		}
		seen[adv.Address] = len(found)
		found = append(found, adv)
	}

	err = dev.Scan(ctx, false, handler)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, NormalizeError(err)
	}
	mu.Lock()
	defer mu.Unlock()
	return found, nil
}
