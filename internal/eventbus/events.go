package eventbus

import (
	"log/slog"
	"net"
	"time"
)

// DeviceFoundEvent fires the first time a device number is seen, or again
// after it has expired and reappeared (spec.md 4.4).
type DeviceFoundEvent struct {
	DeviceNumber uint8
	DeviceName   string
	IP           net.IP
	MAC          net.HardwareAddr
	SeenAt       time.Time
}

// DeviceLostEvent fires exactly once when a device's announcement goes
// stale past the 5000ms expiry window (spec.md invariant 1).
type DeviceLostEvent struct {
	DeviceNumber uint8
}

// DeviceUpdateEvent carries the latest decoded status for one device,
// replaced on every received status packet (spec.md 4.6).
type DeviceUpdateEvent struct {
	DeviceNumber uint8
	IsMaster     bool
	BPM          float64
	Status       any // *protocol.CDJStatus or *protocol.MixerStatus
}

// BeatEvent is delivered once per beat (spec.md 4.7).
type BeatEvent struct {
	DeviceNumber  uint8
	BPM           float64
	Pitch         uint32
	BeatWithinBar uint8
	NextBeatMs    uint32
	NextBarMs     uint32
}

// MasterBeatEvent mirrors BeatEvent but fires only for beats from the
// device StatusTracker currently considers the tempo master, so a
// master-only beat listener doesn't have to track the master itself
// (spec.md 4.1/4.7, "StatusTracker ... so master-only beat-listeners can be
// notified").
type MasterBeatEvent BeatEvent

// MasterChangedEvent reports a tempo-master transition. HasMaster is false
// when the fleet has no master (spec.md invariant 2).
type MasterChangedEvent struct {
	HasMaster    bool
	DeviceNumber uint8
}

// TempoChangedEvent reports a new master tempo, always emitted after the
// MasterChangedEvent for the same transition (spec.md invariant 2).
type TempoChangedEvent struct {
	BPM float64
}

// SyncEvent mirrors a decoded sync-control packet (spec.md 4.7).
type SyncEvent struct {
	DeviceNumber uint8
	BecomeMaster bool
	SyncOn       bool
	SyncOff      bool
}

// OnAirEvent mirrors a decoded channels-on-air packet (spec.md 4.7).
type OnAirEvent struct {
	Channels [4]bool
}

// MasterHandoffEvent mirrors a decoded handoff request or response
// (spec.md 4.6).
type MasterHandoffEvent struct {
	IsRequest  bool
	FromDevice uint8
	Yielded    bool
}

// PrecisePositionEvent mirrors a decoded precise-position packet
// (spec.md 4.1, 4.7).
type PrecisePositionEvent struct {
	DeviceNumber uint8
	BeatNumber   uint32
	PositionMs   uint32
	Pitch        uint32
	BPM          float64
}

// Bus is the process-wide typed publish/subscribe hub (spec.md 4.8). All
// Publish* methods deliver synchronously on the calling goroutine; listener
// panics are recovered and logged, never propagated, and the listener is
// never unsubscribed as a result (spec.md 7.6).
type Bus struct {
	logger *slog.Logger

	deviceFound     *list[func(DeviceFoundEvent)]
	deviceLost      *list[func(DeviceLostEvent)]
	deviceUpdate    *list[func(DeviceUpdateEvent)]
	beat            *list[func(BeatEvent)]
	masterBeat      *list[func(MasterBeatEvent)]
	masterChanged   *list[func(MasterChangedEvent)]
	tempoChanged    *list[func(TempoChangedEvent)]
	sync            *list[func(SyncEvent)]
	onAir           *list[func(OnAirEvent)]
	masterHandoff   *list[func(MasterHandoffEvent)]
	precisePosition *list[func(PrecisePositionEvent)]
}

// New creates an empty event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:          logger.With("subsystem", "eventbus"),
		deviceFound:     newList[func(DeviceFoundEvent)](),
		deviceLost:      newList[func(DeviceLostEvent)](),
		deviceUpdate:    newList[func(DeviceUpdateEvent)](),
		beat:            newList[func(BeatEvent)](),
		masterBeat:      newList[func(MasterBeatEvent)](),
		masterChanged:   newList[func(MasterChangedEvent)](),
		tempoChanged:    newList[func(TempoChangedEvent)](),
		sync:            newList[func(SyncEvent)](),
		onAir:           newList[func(OnAirEvent)](),
		masterHandoff:   newList[func(MasterHandoffEvent)](),
		precisePosition: newList[func(PrecisePositionEvent)](),
	}
}

func (b *Bus) OnDeviceFound(fn func(DeviceFoundEvent)) Subscription   { return b.deviceFound.add(fn) }
func (b *Bus) OffDeviceFound(id Subscription)                        { b.deviceFound.remove(id) }
func (b *Bus) OnDeviceLost(fn func(DeviceLostEvent)) Subscription    { return b.deviceLost.add(fn) }
func (b *Bus) OffDeviceLost(id Subscription)                        { b.deviceLost.remove(id) }
func (b *Bus) OnDeviceUpdate(fn func(DeviceUpdateEvent)) Subscription {
	return b.deviceUpdate.add(fn)
}
func (b *Bus) OffDeviceUpdate(id Subscription) { b.deviceUpdate.remove(id) }
func (b *Bus) OnBeat(fn func(BeatEvent)) Subscription { return b.beat.add(fn) }
func (b *Bus) OffBeat(id Subscription)                { b.beat.remove(id) }
func (b *Bus) OnMasterBeat(fn func(MasterBeatEvent)) Subscription { return b.masterBeat.add(fn) }
func (b *Bus) OffMasterBeat(id Subscription)                      { b.masterBeat.remove(id) }
func (b *Bus) OnMasterChanged(fn func(MasterChangedEvent)) Subscription {
	return b.masterChanged.add(fn)
}
func (b *Bus) OffMasterChanged(id Subscription) { b.masterChanged.remove(id) }
func (b *Bus) OnTempoChanged(fn func(TempoChangedEvent)) Subscription {
	return b.tempoChanged.add(fn)
}
func (b *Bus) OffTempoChanged(id Subscription) { b.tempoChanged.remove(id) }
func (b *Bus) OnSync(fn func(SyncEvent)) Subscription { return b.sync.add(fn) }
func (b *Bus) OffSync(id Subscription)                { b.sync.remove(id) }
func (b *Bus) OnOnAir(fn func(OnAirEvent)) Subscription { return b.onAir.add(fn) }
func (b *Bus) OffOnAir(id Subscription)                 { b.onAir.remove(id) }
func (b *Bus) OnMasterHandoff(fn func(MasterHandoffEvent)) Subscription {
	return b.masterHandoff.add(fn)
}
func (b *Bus) OffMasterHandoff(id Subscription) { b.masterHandoff.remove(id) }
func (b *Bus) OnPrecisePosition(fn func(PrecisePositionEvent)) Subscription {
	return b.precisePosition.add(fn)
}
func (b *Bus) OffPrecisePosition(id Subscription) { b.precisePosition.remove(id) }

func (b *Bus) PublishDeviceFound(e DeviceFoundEvent) {
	for _, fn := range b.deviceFound.snapshot() {
		b.safeCall("device-found", func() { fn(e) })
	}
}

func (b *Bus) PublishDeviceLost(e DeviceLostEvent) {
	for _, fn := range b.deviceLost.snapshot() {
		b.safeCall("device-lost", func() { fn(e) })
	}
}

func (b *Bus) PublishDeviceUpdate(e DeviceUpdateEvent) {
	for _, fn := range b.deviceUpdate.snapshot() {
		b.safeCall("device-update", func() { fn(e) })
	}
}

func (b *Bus) PublishBeat(e BeatEvent) {
	for _, fn := range b.beat.snapshot() {
		b.safeCall("beat", func() { fn(e) })
	}
}

// PublishMasterBeat is fired by StatusTracker, never by BeatFinder directly,
// once it has filtered BeatEvent down to the current tempo master.
func (b *Bus) PublishMasterBeat(e MasterBeatEvent) {
	for _, fn := range b.masterBeat.snapshot() {
		b.safeCall("master-beat", func() { fn(e) })
	}
}

// PublishMasterChanged then PublishTempoChanged must be called in that
// order by callers for a single transition (spec.md invariant 2).
func (b *Bus) PublishMasterChanged(e MasterChangedEvent) {
	for _, fn := range b.masterChanged.snapshot() {
		b.safeCall("master-changed", func() { fn(e) })
	}
}

func (b *Bus) PublishTempoChanged(e TempoChangedEvent) {
	for _, fn := range b.tempoChanged.snapshot() {
		b.safeCall("tempo-changed", func() { fn(e) })
	}
}

func (b *Bus) PublishSync(e SyncEvent) {
	for _, fn := range b.sync.snapshot() {
		b.safeCall("sync", func() { fn(e) })
	}
}

func (b *Bus) PublishOnAir(e OnAirEvent) {
	for _, fn := range b.onAir.snapshot() {
		b.safeCall("on-air", func() { fn(e) })
	}
}

func (b *Bus) PublishMasterHandoff(e MasterHandoffEvent) {
	for _, fn := range b.masterHandoff.snapshot() {
		b.safeCall("master-handoff", func() { fn(e) })
	}
}

func (b *Bus) PublishPrecisePosition(e PrecisePositionEvent) {
	for _, fn := range b.precisePosition.snapshot() {
		b.safeCall("precise-position", func() { fn(e) })
	}
}

// safeCall recovers a listener panic, logs it at warn level, and never
// propagates it or unsubscribes the listener (spec.md 7.6).
func (b *Bus) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("listener panicked", "event", event, "panic", r)
		}
	}()
	fn()
}
