package registry

import (
	"net"
	"testing"
	"time"

	"github.com/djlink/prolink/internal/eventbus"
)

func TestOnAnnouncementFiresFoundOnce(t *testing.T) {
	bus := eventbus.New(nil)
	var found []eventbus.DeviceFoundEvent
	bus.OnDeviceFound(func(e eventbus.DeviceFoundEvent) { found = append(found, e) })

	r := New(bus, nil)
	now := time.Now()
	r.OnAnnouncement(2, "CDJ-900", net.ParseIP("192.168.2.11"), nil, now)
	r.OnAnnouncement(2, "CDJ-900", net.ParseIP("192.168.2.11"), nil, now.Add(time.Second))

	if len(found) != 1 {
		t.Fatalf("device-found fired %d times, want 1", len(found))
	}
	if found[0].DeviceNumber != 2 {
		t.Errorf("DeviceNumber = %d, want 2", found[0].DeviceNumber)
	}
}

func TestExpirePublishesLostOnce(t *testing.T) {
	bus := eventbus.New(nil)
	var lost []eventbus.DeviceLostEvent
	bus.OnDeviceLost(func(e eventbus.DeviceLostEvent) { lost = append(lost, e) })

	r := New(bus, nil)
	start := time.Now()
	r.OnAnnouncement(2, "CDJ-900", net.ParseIP("192.168.2.11"), nil, start)

	r.Expire(start.Add(4999 * time.Millisecond))
	if len(lost) != 0 {
		t.Fatalf("device-lost fired before expiry window elapsed")
	}

	r.Expire(start.Add(5001 * time.Millisecond))
	if len(lost) != 1 {
		t.Fatalf("device-lost fired %d times, want 1", len(lost))
	}

	r.Expire(start.Add(10 * time.Second))
	if len(lost) != 1 {
		t.Fatalf("device-lost re-fired for an already-removed device")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	bus := eventbus.New(nil)
	r := New(bus, nil)
	r.OnAnnouncement(1, "CDJ-2000", net.ParseIP("192.168.1.1"), nil, time.Now())

	snap := r.Snapshot()
	snap[1] = Entry{DeviceNumber: 99}

	snap2 := r.Snapshot()
	if snap2[1].DeviceNumber != 1 {
		t.Errorf("mutating a snapshot leaked into registry state")
	}
}
