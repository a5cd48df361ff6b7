package devices

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"homeboard/internal/backend"
)

var ErrUnknownDevice = errors.New("unknown device")

// Client is the part of the backend the device roster talks to.
type Client interface {
	Devices(ctx context.Context) (backend.DeviceList, error)
	SyncDevices(ctx context.Context, creds backend.Credentials) (backend.DeviceList, error)
	UpdateLinkage(ctx context.Context, deviceID string, update backend.LinkageUpdate) (*backend.Device, error)
	SendCommand(ctx context.Context, deviceID, action string) (*backend.CommandResult, error)
}

type entry struct {
	device    backend.Device
	confirmed []string
	gen       uint64
	pending   int
}

// LinkageSync holds the device roster and applies briefing linkage changes
// optimistically. The local set changes before the backend answers; once
// every request for a device has settled the view falls back to what the
// backend last confirmed.
type LinkageSync struct {
	client Client

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
	epoch   uint64
}

func NewLinkageSync(client Client) *LinkageSync {
	return &LinkageSync{client: client, entries: map[string]*entry{}}
}

func (l *LinkageSync) Devices() []backend.Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]backend.Device, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, cloneDevice(l.entries[id].device))
	}
	return out
}

func (l *LinkageSync) Device(id string) (backend.Device, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return backend.Device{}, false
	}
	return cloneDevice(e.device), true
}

// LinkedTo returns the devices whose current set contains briefingID.
func (l *LinkageSync) LinkedTo(briefingID string) []backend.Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []backend.Device
	for _, id := range l.order {
		device := l.entries[id].device
		if slices.Contains(device.BriefingIDs, briefingID) {
			out = append(out, cloneDevice(device))
		}
	}
	return out
}

// Refresh reloads the roster as the backend currently stores it.
func (l *LinkageSync) Refresh(ctx context.Context) error {
	devices, err := l.client.Devices(ctx)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	l.replace(devices)
	return nil
}

// Sync re-imports the roster from the smart-home platform and replaces the
// local one wholesale. Linkage is whatever the backend returns; nothing
// local is merged back in.
func (l *LinkageSync) Sync(ctx context.Context, creds backend.Credentials) error {
	devices, err := l.client.SyncDevices(ctx, creds)
	if err != nil {
		return fmt.Errorf("sync devices: %w", err)
	}
	l.replace(devices)
	log.Printf("devices: roster synced, %d devices", len(devices))
	return nil
}

func (l *LinkageSync) replace(devices backend.DeviceList) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch++
	l.order = make([]string, 0, len(devices))
	l.entries = make(map[string]*entry, len(devices))
	for _, device := range devices {
		if _, dup := l.entries[device.ID]; dup {
			continue
		}
		device = cloneDevice(device)
		if device.BriefingIDs == nil {
			device.BriefingIDs = []string{}
		}
		l.order = append(l.order, device.ID)
		l.entries[device.ID] = &entry{device: device, confirmed: slices.Clone(device.BriefingIDs)}
	}
}

// ToggleLinkage adds briefingID to the device's set, or removes it when
// already present.
func (l *LinkageSync) ToggleLinkage(ctx context.Context, deviceID, briefingID string) (backend.Device, error) {
	return l.setLinkage(ctx, deviceID, func(current []string) []string {
		if i := slices.Index(current, briefingID); i >= 0 {
			return slices.Delete(current, i, i+1)
		}
		return append(current, briefingID)
	})
}

// ClearLinkage unlinks the device from every briefing.
func (l *LinkageSync) ClearLinkage(ctx context.Context, deviceID string) (backend.Device, error) {
	return l.setLinkage(ctx, deviceID, func([]string) []string { return []string{} })
}

func (l *LinkageSync) setLinkage(ctx context.Context, deviceID string, change func([]string) []string) (backend.Device, error) {
	l.mu.Lock()
	e, ok := l.entries[deviceID]
	if !ok {
		l.mu.Unlock()
		return backend.Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	next := change(slices.Clone(e.device.BriefingIDs))
	update := backend.LinkageUpdate{BriefingIDs: slices.Clone(next), ExpectedVersion: e.device.Version}
	e.device.BriefingIDs = next
	e.gen++
	e.pending++
	gen, epoch := e.gen, l.epoch
	l.mu.Unlock()

	stored, err := l.client.UpdateLinkage(ctx, deviceID, update)

	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.entries[deviceID]
	if l.epoch != epoch || !ok || current != e {
		// The roster was replaced while the request was in flight.
		if err != nil {
			return backend.Device{}, fmt.Errorf("update linkage %s: %w", deviceID, err)
		}
		return cloneDevice(*stored), nil
	}

	e.pending--
	if err == nil {
		// A response without briefing_ids confirms the set that was sent.
		e.confirmed = slices.Clone(stored.BriefingIDs)
		if e.confirmed == nil {
			e.confirmed = slices.Clone(update.BriefingIDs)
		}
		if e.confirmed == nil {
			e.confirmed = []string{}
		}
		e.device.Version = stored.Version
	}
	if e.pending == 0 {
		e.device.BriefingIDs = slices.Clone(e.confirmed)
	}
	if err != nil {
		if e.gen != gen {
			log.Printf("devices: linkage update for %s failed after a newer change: %v", deviceID, err)
		}
		return cloneDevice(e.device), fmt.Errorf("update linkage %s: %w", deviceID, err)
	}
	return cloneDevice(e.device), nil
}

// SendCommand issues a single command. The device's online flag is not
// checked and the command is never retried.
func (l *LinkageSync) SendCommand(ctx context.Context, deviceID, action string) (backend.CommandResult, error) {
	result, err := l.client.SendCommand(ctx, deviceID, action)
	if err != nil {
		return backend.CommandResult{}, fmt.Errorf("command %s on %s: %w", action, deviceID, err)
	}
	return *result, nil
}

func cloneDevice(d backend.Device) backend.Device {
	d.BriefingIDs = slices.Clone(d.BriefingIDs)
	return d
}
