// Package memory is a process-local DeviceStore for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
)

type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]dispatch.Device
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]dispatch.Device)}
}

func (s *DeviceStore) Save(_ context.Context, device *dispatch.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[device.PlayerID] = clone(device)
	return nil
}

func (s *DeviceStore) Get(_ context.Context, playerID string) (*dispatch.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[playerID]
	if !ok {
		return nil, dispatch.ErrDeviceNotFound
	}
	out := clone(&d)
	return &out, nil
}

func (s *DeviceStore) GetMany(_ context.Context, playerIDs []string) (map[string]*dispatch.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := make(map[string]*dispatch.Device, len(playerIDs))
	for _, id := range playerIDs {
		if d, ok := s.devices[id]; ok {
			out := clone(&d)
			found[id] = &out
		}
	}
	return found, nil
}

func (s *DeviceStore) Delete(_ context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, playerID)
	return nil
}

// clone copies the reference fields so callers cannot mutate stored state.
func clone(d *dispatch.Device) dispatch.Device {
	out := *d
	out.Tags = d.Tags.Clone()
	out.ActiveNotifications = append([]string(nil), d.ActiveNotifications...)
	if d.WebSubscription != nil {
		sub := *d.WebSubscription
		sub.Keys.P256dh = append([]byte(nil), d.WebSubscription.Keys.P256dh...)
		sub.Keys.Auth = append([]byte(nil), d.WebSubscription.Keys.Auth...)
		out.WebSubscription = &sub
	}
	return out
}
