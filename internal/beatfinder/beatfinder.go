// Package beatfinder decodes port-50001 traffic (spec.md 4.7): beat grid,
// channels-on-air, sync-control, master handoff, and precise-position
// packets, publishing one eventbus event per recognized packet.
package beatfinder

import (
	"log/slog"
	"net"

	"github.com/djlink/prolink/internal/eventbus"
	"github.com/djlink/prolink/internal/metrics"
	"github.com/djlink/prolink/internal/protocol"
)

// Finder wires a beat-port socket's received bytes to the event bus.
type Finder struct {
	bus     *eventbus.Bus
	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates a Finder. metrics may be nil in tests.
func New(bus *eventbus.Bus, m *metrics.Collector, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{bus: bus, metrics: m, logger: logger.With("component", "beatfinder")}
}

// Handle decodes one packet received on port 50001 and publishes the
// matching event. It never returns an error; malformed or unrecognized
// packets are logged at debug level and dropped (spec.md 7.5).
func (f *Finder) Handle(data []byte, from *net.UDPAddr) {
	pkt, err := protocol.Decode(data, protocol.PortBeat)
	if err != nil {
		if f.metrics != nil {
			f.metrics.PacketsRejected(protocol.PortBeat)
		}
		f.logger.Debug("dropping unrecognized beat-port packet", "from", from, "error", err)
		return
	}
	if f.metrics != nil {
		f.metrics.PacketsDecoded(protocol.PortBeat, pkt.Type())
	}

	switch p := pkt.(type) {
	case *protocol.Beat:
		f.bus.PublishBeat(eventbus.BeatEvent{
			DeviceNumber:  p.DeviceNumber,
			BPM:           p.EffectiveBPM(),
			Pitch:         p.Pitch,
			BeatWithinBar: p.BeatWithinBar,
			NextBeatMs:    p.NextBeatMs,
			NextBarMs:     p.NextBarMs,
		})
	case *protocol.PrecisePosition:
		f.bus.PublishPrecisePosition(eventbus.PrecisePositionEvent{
			DeviceNumber: p.DeviceNumber,
			BeatNumber:   p.BeatNumber,
			PositionMs:   p.PositionMs,
			Pitch:        p.Pitch,
			BPM:          float64(p.BPM100) / 100,
		})
	case *protocol.ChannelsOnAir:
		f.bus.PublishOnAir(eventbus.OnAirEvent{Channels: p.OnAir})
	case *protocol.SyncControl:
		f.bus.PublishSync(eventbus.SyncEvent{
			DeviceNumber: p.DeviceNumber,
			BecomeMaster: p.Action == protocol.SyncActionBecomeMaster,
			SyncOn:       p.Action == protocol.SyncActionSyncOn,
			SyncOff:      p.Action == protocol.SyncActionSyncOff,
		})
	case *protocol.MasterHandoffRequest:
		f.bus.PublishMasterHandoff(eventbus.MasterHandoffEvent{IsRequest: true, FromDevice: p.FromDevice})
	case *protocol.MasterHandoffResponse:
		f.bus.PublishMasterHandoff(eventbus.MasterHandoffEvent{IsRequest: false, FromDevice: p.FromDevice, Yielded: p.Yielded})
	case *protocol.FaderStart:
		// Accepted and ignored (spec.md 9.5.3).
	}
}
