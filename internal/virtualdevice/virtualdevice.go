// Package virtualdevice implements VirtualDevice (spec.md 4.5): a
// state-machine-driven joiner that claims a device number, defends it, and
// broadcasts keep-alives indistinguishable from a real CDJ (or, in
// Rekordbox role, rekordbox Lighting). Structured the way the teacher's
// internal/sip/dialog.go models a SIP dialog's lifecycle: one small enum of
// states, a struct of plain fields, state transitions made explicit rather
// than hidden behind interfaces.
package virtualdevice

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/djlink/prolink/internal/metrics"
	"github.com/djlink/prolink/internal/protocol"
	"github.com/djlink/prolink/internal/registry"
	"github.com/djlink/prolink/internal/transport"
)

// State is one step of the device-number claim state machine (spec.md 4.5).
type State int

const (
	StateIdle State = iota
	StateHello
	StateClaimS1
	StateClaimS2
	StateAwaitMixer
	StateClaimS3
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHello:
		return "Hello"
	case StateClaimS1:
		return "ClaimS1"
	case StateClaimS2:
		return "ClaimS2"
	case StateAwaitMixer:
		return "AwaitMixer"
	case StateClaimS3:
		return "ClaimS3"
	case StateActive:
		return "Active"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Role selects which candidate device-number range self-assignment tries
// (spec.md 4.5 step 2).
type Role int

const (
	RoleCDJ Role = iota
	RoleRekordbox
)

// SelfAssignmentWatchPeriod is how long DeviceRegistry must have been
// observing the network before an unconfigured VirtualDevice starts
// claiming a number (spec.md 4.5 step 1).
const SelfAssignmentWatchPeriod = 4 * time.Second

// burstInterval is the spacing between the three packets of each claim
// broadcast burst (spec.md 4.5 steps 1, 3, 4, 6).
const burstInterval = 300 * time.Millisecond

// DefaultAnnounceInterval is the Active-state keep-alive cadence (spec.md 6).
const DefaultAnnounceInterval = 1500 * time.Millisecond

// ErrCandidatesExhausted is returned by Run when every candidate number in
// range was defended (spec.md 4.5 step 3, error taxonomy item 4).
var ErrCandidatesExhausted = errors.New("virtualdevice: all candidate device numbers are defended")

// Config configures a VirtualDevice (spec.md section 6).
type Config struct {
	Role                    Role
	UseStandardPlayerNumber bool
	DeviceNumber            uint8 // 0 = auto-assign
	DeviceName              string
	AnnounceInterval        time.Duration
	MAC                     net.HardwareAddr
	IP                      net.IP
	Broadcast               net.IP
}

// inboundEvent is one decoded port-50000 packet relevant to the claim or
// defense state machines, queued from the transport's receive goroutine.
type inboundEvent struct {
	pkt  protocol.Packet
	from *net.UDPAddr
}

// VirtualDevice drives the device-number claim/defense state machine and
// the Active-state keep-alive broadcast.
type VirtualDevice struct {
	cfg     Config
	sock    *transport.Socket
	reg     *registry.Registry
	metrics *metrics.Collector
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	num   uint8

	events chan inboundEvent
}

// New creates a VirtualDevice bound to the announcement socket. sock is
// typically transport.Transport.Announcement().
func New(cfg Config, sock *transport.Socket, reg *registry.Registry, m *metrics.Collector, logger *slog.Logger) *VirtualDevice {
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = DefaultAnnounceInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VirtualDevice{
		cfg:     cfg,
		sock:    sock,
		reg:     reg,
		metrics: m,
		logger:  logger.With("component", "virtualdevice"),
		events:  make(chan inboundEvent, 32),
		state:   StateIdle,
	}
}

// State returns the current state machine state.
func (vd *VirtualDevice) State() State {
	vd.mu.Lock()
	defer vd.mu.Unlock()
	return vd.state
}

// DeviceNumber returns the claimed (or, pre-Active, candidate) device
// number.
func (vd *VirtualDevice) DeviceNumber() uint8 {
	vd.mu.Lock()
	defer vd.mu.Unlock()
	return vd.num
}

func (vd *VirtualDevice) setState(s State) {
	vd.mu.Lock()
	vd.state = s
	vd.mu.Unlock()
	vd.logger.Debug("state transition", "state", s.String())
}

// HandlePacket is the dispatch hook fed every decoded port-50000 packet. It
// never blocks: a full queue drops the packet, matching the "listener
// callbacks must finish promptly" contract (spec.md section 5, 9).
func (vd *VirtualDevice) HandlePacket(pkt protocol.Packet, from *net.UDPAddr) {
	select {
	case vd.events <- inboundEvent{pkt: pkt, from: from}:
	default:
		vd.logger.Warn("dropping claim-port event, queue full")
	}
}

// Run executes the full claim state machine and, on success, the Active
// keep-alive loop, blocking until ctx is cancelled or the candidate space
// is exhausted. A configured (non-zero) DeviceNumber skips self-assignment
// entirely and claims that exact number.
func (vd *VirtualDevice) Run(ctx context.Context) error {
	if vd.cfg.DeviceNumber == 0 {
		if err := vd.waitForWatchPeriod(ctx); err != nil {
			return err
		}
	}

	vd.setState(StateHello)
	vd.broadcastBurst(ctx, func(counter uint8) []byte {
		return protocol.EncodeHello(vd.cfg.MAC)
	}, 3)

	for _, candidate := range vd.candidates() {
		if vd.reg.IsClaimed(candidate) {
			continue
		}
		outcome, assigned, mixer := vd.attemptClaim(ctx, candidate)
		switch outcome {
		case claimAssigned:
			vd.mu.Lock()
			vd.num = assigned
			vd.mu.Unlock()
			if vd.metrics != nil {
				vd.metrics.ClaimOutcome("assigned")
			}
			vd.setState(StateActive)
			vd.runActive(ctx)
			return nil
		case claimRejected:
			if vd.metrics != nil {
				vd.metrics.ClaimOutcome("defended")
			}
			continue
		case claimMixerAssigned:
			_ = mixer
			vd.mu.Lock()
			vd.num = assigned
			vd.mu.Unlock()
			if vd.metrics != nil {
				vd.metrics.ClaimOutcome("mixer-assigned")
			}
			vd.setState(StateActive)
			vd.runActive(ctx)
			return nil
		case claimCancelled:
			return ctx.Err()
		}
	}

	vd.setState(StateFailed)
	if vd.metrics != nil {
		vd.metrics.ClaimOutcome("exhausted")
	}
	return ErrCandidatesExhausted
}

func (vd *VirtualDevice) waitForWatchPeriod(ctx context.Context) error {
	for {
		first := vd.reg.FirstDeviceSeenTime()
		if !first.IsZero() && time.Since(first) >= SelfAssignmentWatchPeriod {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// candidates returns the ordered list of device numbers to try (spec.md 4.5
// step 2).
func (vd *VirtualDevice) candidates() []uint8 {
	if vd.cfg.DeviceNumber != 0 {
		return []uint8{vd.cfg.DeviceNumber}
	}
	if vd.cfg.Role == RoleRekordbox {
		out := make([]uint8, 0, 0x27-0x13+1)
		for n := uint8(0x13); n <= 0x27; n++ {
			out = append(out, n)
		}
		return out
	}
	if vd.cfg.UseStandardPlayerNumber {
		return []uint8{1, 2, 3, 4}
	}
	return []uint8{7, 8, 9, 10, 11, 12, 13, 14, 15}
}

type claimOutcome int

const (
	claimRejected claimOutcome = iota
	claimAssigned
	claimMixerAssigned
	claimCancelled
)

// attemptClaim runs stages 1 through 3 for a single candidate number,
// returning as soon as the outcome is known (spec.md 4.5 steps 3, 4, 5, 6).
func (vd *VirtualDevice) attemptClaim(ctx context.Context, candidate uint8) (claimOutcome, uint8, *net.UDPAddr) {
	vd.mu.Lock()
	vd.num = candidate
	vd.mu.Unlock()

	vd.setState(StateClaimS1)
	rejected, willAssign, mixerAddr := vd.broadcastBurstWatching(ctx, func(counter uint8) []byte {
		return protocol.EncodeClaimStage1(vd.cfg.MAC, counter)
	}, candidate)
	if ctx.Err() != nil {
		return claimCancelled, 0, nil
	}
	if rejected {
		return claimRejected, 0, nil
	}
	if willAssign {
		return vd.awaitMixer(ctx, candidate, mixerAddr)
	}

	vd.setState(StateClaimS2)
	rejected, willAssign, mixerAddr = vd.broadcastBurstWatching(ctx, func(counter uint8) []byte {
		return protocol.EncodeClaimStage2(vd.cfg.IP, vd.cfg.MAC, candidate, true, counter)
	}, candidate)
	if ctx.Err() != nil {
		return claimCancelled, 0, nil
	}
	if rejected {
		return claimRejected, 0, nil
	}
	if willAssign {
		return vd.awaitMixer(ctx, candidate, mixerAddr)
	}

	vd.setState(StateClaimS3)
	rejected, _, _ = vd.broadcastBurstWatching(ctx, func(counter uint8) []byte {
		return protocol.EncodeClaimStage3(vd.cfg.MAC, counter)
	}, candidate)
	if ctx.Err() != nil {
		return claimCancelled, 0, nil
	}
	if rejected {
		return claimRejected, 0, nil
	}
	return claimAssigned, candidate, nil
}

// awaitMixer sends the direct assignment request and waits for the mixer's
// ASSIGN then ASSIGNMENT_FINISHED (spec.md 4.5 step 5).
func (vd *VirtualDevice) awaitMixer(ctx context.Context, candidate uint8, mixerAddr *net.UDPAddr) (claimOutcome, uint8, *net.UDPAddr) {
	vd.setState(StateAwaitMixer)
	req := protocol.EncodeClaimStage2(vd.cfg.IP, vd.cfg.MAC, candidate, true, 1)
	if mixerAddr != nil {
		_ = vd.sock.Send(req, mixerAddr)
	}

	var assigned uint8
	haveAssign := false
	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return claimCancelled, 0, nil
		case <-deadline.C:
			return claimRejected, 0, nil
		case ev := <-vd.events:
			switch p := ev.pkt.(type) {
			case *protocol.Assign:
				assigned = p.DeviceNumber
				haveAssign = true
			case *protocol.AssignmentFinished:
				if haveAssign {
					return claimMixerAssigned, assigned, ev.from
				}
				return claimMixerAssigned, p.DeviceNumber, ev.from
			}
		}
	}
}

// broadcastBurst sends count packets burstInterval apart without watching
// for interruptions (used for the Hello burst, which spec.md does not
// condition on a specific response).
func (vd *VirtualDevice) broadcastBurst(ctx context.Context, build func(counter uint8) []byte, count int) {
	for i := 1; i <= count; i++ {
		if ctx.Err() != nil {
			return
		}
		_ = vd.sock.Broadcast(build(uint8(i)), vd.cfg.Broadcast)
		if i < count {
			select {
			case <-ctx.Done():
				return
			case <-time.After(burstInterval):
			}
		}
	}
}

// broadcastBurstWatching sends three packets burstInterval apart, watching
// for a DEVICE_NUMBER_IN_USE naming candidate (rejected=true) or a
// DEVICE_NUMBER_WILL_ASSIGN (willAssign=true, mixerAddr set) at every gap
// (spec.md 4.5 steps 3, 4, 6).
func (vd *VirtualDevice) broadcastBurstWatching(ctx context.Context, build func(counter uint8) []byte, candidate uint8) (rejected, willAssign bool, mixerAddr *net.UDPAddr) {
burst:
	for i := 1; i <= 3; i++ {
		if ctx.Err() != nil {
			return false, false, nil
		}
		_ = vd.sock.Broadcast(build(uint8(i)), vd.cfg.Broadcast)

		timer := time.NewTimer(burstInterval)
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, false, nil
			case <-timer.C:
				continue burst
			case ev := <-vd.events:
				switch p := ev.pkt.(type) {
				case *protocol.InUse:
					if p.DeviceNumber == candidate {
						timer.Stop()
						return true, false, nil
					}
				case *protocol.WillAssign:
					timer.Stop()
					return false, true, ev.from
				}
			}
		}
	}
	return false, false, nil
}

// runActive broadcasts the keep-alive every AnnounceInterval and defends
// against collisions until ctx is cancelled (spec.md 4.5 step 7, "Defense").
func (vd *VirtualDevice) runActive(ctx context.Context) {
	ticker := time.NewTicker(vd.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			vd.shutdown()
			return
		case <-ticker.C:
			num := vd.DeviceNumber()
			_ = vd.sock.Broadcast(
				protocol.EncodeAnnouncement(vd.cfg.DeviceName, num, vd.cfg.MAC, vd.cfg.IP),
				vd.cfg.Broadcast,
			)
		case ev := <-vd.events:
			vd.defendIfNeeded(ev)
		}
	}
}

// defendIfNeeded answers a claim/announcement referencing our device
// number with DEVICE_NUMBER_IN_USE, directly to the sender (spec.md 4.5
// "Defense").
func (vd *VirtualDevice) defendIfNeeded(ev inboundEvent) {
	num := vd.DeviceNumber()
	var claimant uint8
	var matched bool
	// Stage-3 claim broadcasts don't carry the candidate number in this
	// layout (spec.md 4.5 step 6 only gives MAC + counter); a colliding
	// claimant is caught via the stage-2 packet that necessarily precedes it.
	switch p := ev.pkt.(type) {
	case *protocol.Announcement:
		claimant, matched = p.DeviceNumber, true
	case *protocol.ClaimStage2:
		claimant, matched = p.DeviceNumber, true
	}
	if !matched || claimant != num || ev.from == nil {
		return
	}
	_ = vd.sock.Send(protocol.EncodeInUse(num, vd.cfg.MAC), ev.from)
}

// shutdown resets the device number to 0 so a restart can self-reassign
// (spec.md 4.5 "Shutdown").
func (vd *VirtualDevice) shutdown() {
	vd.mu.Lock()
	vd.num = 0
	vd.state = StateIdle
	vd.mu.Unlock()
}

