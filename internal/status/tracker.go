// Package status implements StatusTracker (spec.md 4.6): the latest
// per-device status cache, single-tempo-master tracking, and the
// master-handoff protocol.
package status

import (
	"sync"

	"github.com/djlink/prolink/internal/eventbus"
	"github.com/djlink/prolink/internal/protocol"
)

// DefaultTempoEpsilon is the minimum BPM delta required to fire a
// tempo-changed event (spec.md section 6 config table).
const DefaultTempoEpsilon = 0.0001

// masterCandidate captures the tie-break inputs for one tick's worth of
// statuses claiming master (spec.md 4.6 "Tie-breaks").
type masterCandidate struct {
	deviceNumber uint8
	syncCounter  uint32
}

// Tracker maintains per-device status, the current master, and the
// current master tempo, publishing master-changed/tempo-changed events in
// that order for a single transition (spec.md invariant 2).
type Tracker struct {
	bus     *eventbus.Bus
	epsilon float64

	mu          sync.Mutex
	latest      map[uint8]any // *protocol.CDJStatus or *protocol.MixerStatus
	hasMaster   bool
	master      uint8
	masterTempo float64
	tickMaster  *masterCandidate
}

// New creates a tracker with the given tempo epsilon (0 selects the
// default).
func New(bus *eventbus.Bus, epsilon float64) *Tracker {
	if epsilon == 0 {
		epsilon = DefaultTempoEpsilon
	}
	return &Tracker{bus: bus, epsilon: epsilon, latest: make(map[uint8]any)}
}

// deviceStatus is the minimal shape both CDJStatus and MixerStatus satisfy,
// letting OnStatus treat them uniformly for master-tracking purposes.
type deviceStatus interface {
	protocol.Packet
	IsTempoMaster() bool
	EffectiveBPM() float64
}

// OnStatus processes one received status packet, updates the per-device
// cache, and applies the master-tracking rules of spec.md 4.6.
func (t *Tracker) OnStatus(deviceNumber uint8, s deviceStatus, syncCounter uint32) {
	t.mu.Lock()
	t.latest[deviceNumber] = s
	t.mu.Unlock()

	isMaster := s.IsTempoMaster()
	bpm := s.EffectiveBPM()

	t.mu.Lock()
	var (
		emitMasterChanged bool
		newMasterDevice   uint8
		newHasMaster      bool
		emitTempoChanged  bool
		newTempo          float64
	)

	switch {
	case isMaster:
		// Tie-break against anything already decided as master this tick,
		// per spec.md 4.6: higher sync-counter wins; equal counters, lower
		// device number wins.
		if t.tickMaster != nil && t.tickMaster.deviceNumber != deviceNumber {
			winner := t.tickMaster.deviceNumber
			if syncCounter > t.tickMaster.syncCounter ||
				(syncCounter == t.tickMaster.syncCounter && deviceNumber < t.tickMaster.deviceNumber) {
				winner = deviceNumber
			}
			if winner != deviceNumber {
				t.mu.Unlock()
				return
			}
		}
		t.tickMaster = &masterCandidate{deviceNumber: deviceNumber, syncCounter: syncCounter}

		if !t.hasMaster || t.master != deviceNumber {
			emitMasterChanged = true
			newHasMaster = true
			newMasterDevice = deviceNumber
			t.hasMaster = true
			t.master = deviceNumber
			t.masterTempo = bpm
			emitTempoChanged = true
			newTempo = bpm
		} else if diff := bpm - t.masterTempo; diff > t.epsilon || diff < -t.epsilon {
			t.masterTempo = bpm
			emitTempoChanged = true
			newTempo = bpm
		}

	case t.hasMaster && t.master == deviceNumber:
		// The current master resigned (spec.md 4.6).
		emitMasterChanged = true
		newHasMaster = false
		t.hasMaster = false
		t.master = 0
		t.tickMaster = nil
	}
	t.mu.Unlock()

	if emitMasterChanged {
		t.bus.PublishMasterChanged(eventbus.MasterChangedEvent{HasMaster: newHasMaster, DeviceNumber: newMasterDevice})
	}
	if emitTempoChanged {
		t.bus.PublishTempoChanged(eventbus.TempoChangedEvent{BPM: newTempo})
	}

	t.bus.PublishDeviceUpdate(eventbus.DeviceUpdateEvent{
		DeviceNumber: deviceNumber,
		IsMaster:     isMaster,
		BPM:          bpm,
		Status:       s,
	})
}

// OnBeat forwards a decoded beat to the tracker so master-only beat
// listeners can subscribe without tracking the master themselves (spec.md
// 4.7: "emit Beat to beat-listeners and to StatusTracker"). It republishes
// as MasterBeatEvent only when the beat's sender is the current tempo
// master; beats from any other device are dropped.
func (t *Tracker) OnBeat(e eventbus.BeatEvent) {
	t.mu.Lock()
	isMaster := t.hasMaster && t.master == e.DeviceNumber
	t.mu.Unlock()
	if !isMaster {
		return
	}
	t.bus.PublishMasterBeat(eventbus.MasterBeatEvent(e))
}

// ResetTick clears the per-tick tie-break candidate, for a caller that wants
// to delimit a batch of simultaneous statuses explicitly. cmd/prolink does
// not call it: OnStatus replaces the candidate whenever a new master
// settles and clears it when the master resigns.
func (t *Tracker) ResetTick() {
	t.mu.Lock()
	t.tickMaster = nil
	t.mu.Unlock()
}

// CurrentMaster returns the current master device number and whether one
// exists.
func (t *Tracker) CurrentMaster() (uint8, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.master, t.hasMaster
}

// CurrentTempo returns the current master tempo (meaningless if no master).
func (t *Tracker) CurrentTempo() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.masterTempo
}

// Latest returns the most recently received status for a device, or nil.
func (t *Tracker) Latest(deviceNumber uint8) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest[deviceNumber]
}
