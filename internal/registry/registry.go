// Package registry implements DeviceRegistry (spec.md 4.4): the table of
// currently-visible devices, keyed by device number, with 5-second expiry
// and found/lost notification. Guarded by a single mutex (not a mutex per
// field, spec.md 5), snapshots copy out so subscribers never see aliased
// state (spec.md 3 Ownership).
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/djlink/prolink/internal/eventbus"
	"github.com/djlink/prolink/internal/transport"
)

// ExpiryWindow is how long a device is considered present after its last
// announcement (spec.md invariant 1).
const ExpiryWindow = 5000 * time.Millisecond

// Entry is one device's last-known announcement plus when it was last seen.
type Entry struct {
	DeviceNumber uint8
	DeviceName   string
	IP           net.IP
	MAC          net.HardwareAddr
	LastSeen     time.Time
}

// Registry is the process-wide device table.
type Registry struct {
	bus    *eventbus.Bus
	socket *transport.Socket

	mu              sync.Mutex
	devices         map[uint8]Entry
	firstDeviceSeen time.Time
}

// New creates an empty registry publishing found/lost events on bus.
// socket's ignore-list is what AddIgnoredAddress/RemoveIgnoredAddress
// forward to (spec.md 4.4).
func New(bus *eventbus.Bus, socket *transport.Socket) *Registry {
	return &Registry{bus: bus, socket: socket, devices: make(map[uint8]Entry)}
}

// AddIgnoredAddress forwards to the announcement socket's ignore-list
// (spec.md 4.4).
func (r *Registry) AddIgnoredAddress(ip net.IP) {
	r.socket.AddIgnoredAddress(ip)
}

// RemoveIgnoredAddress forwards to the announcement socket's ignore-list.
func (r *Registry) RemoveIgnoredAddress(ip net.IP) {
	r.socket.RemoveIgnoredAddress(ip)
}

// OnAnnouncement records (or refreshes) a device sighting. A device-found
// event fires only the first time this device number appears; the entry
// and its timestamp are always updated (spec.md 4.4).
func (r *Registry) OnAnnouncement(deviceNumber uint8, name string, ip net.IP, mac net.HardwareAddr, now time.Time) {
	r.mu.Lock()
	_, existed := r.devices[deviceNumber]
	r.devices[deviceNumber] = Entry{
		DeviceNumber: deviceNumber,
		DeviceName:   name,
		IP:           ip,
		MAC:          mac,
		LastSeen:     now,
	}
	if r.firstDeviceSeen.IsZero() {
		r.firstDeviceSeen = now
	}
	r.mu.Unlock()

	if !existed {
		r.bus.PublishDeviceFound(eventbus.DeviceFoundEvent{
			DeviceNumber: deviceNumber,
			DeviceName:   name,
			IP:           ip,
			MAC:          mac,
			SeenAt:       now,
		})
	}
}

// Expire removes every entry whose last announcement is older than
// ExpiryWindow relative to now, publishing exactly one device-lost event
// per removed entry (spec.md invariant 1).
func (r *Registry) Expire(now time.Time) {
	var lost []uint8
	r.mu.Lock()
	for num, e := range r.devices {
		if now.Sub(e.LastSeen) > ExpiryWindow {
			delete(r.devices, num)
			lost = append(lost, num)
		}
	}
	r.mu.Unlock()

	for _, num := range lost {
		r.bus.PublishDeviceLost(eventbus.DeviceLostEvent{DeviceNumber: num})
	}
}

// Snapshot returns a by-value copy of the current device set; this also
// opportunistically runs expiry first (spec.md 4.4 "Expiry runs
// opportunistically... on every snapshot() call").
func (r *Registry) Snapshot() map[uint8]Entry {
	r.Expire(time.Now())

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint8]Entry, len(r.devices))
	for k, v := range r.devices {
		out[k] = v
	}
	return out
}

// IsClaimed reports whether deviceNumber is currently visible in the
// registry (used by VirtualDevice to skip already-claimed candidates,
// spec.md 4.5 step 2 and invariant 3).
func (r *Registry) IsClaimed(deviceNumber uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[deviceNumber]
	return ok
}

// FirstDeviceSeenTime returns the time the first device ever appeared, or
// the zero Time if none has yet (spec.md 4.4, used by VirtualDevice's
// SELF_ASSIGNMENT_WATCH_PERIOD gate).
func (r *Registry) FirstDeviceSeenTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstDeviceSeen
}
