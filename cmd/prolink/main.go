// Command prolink runs the passive DJ Link join: it watches the three
// well-known announcement/status/beat ports, tracks visible devices and
// the current tempo master, and (when enabled) runs a virtual device that
// claims its own player number and joins the network.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/djlink/prolink/internal/api"
	"github.com/djlink/prolink/internal/api/middleware"
	"github.com/djlink/prolink/internal/beatfinder"
	"github.com/djlink/prolink/internal/config"
	"github.com/djlink/prolink/internal/eventbus"
	"github.com/djlink/prolink/internal/history"
	"github.com/djlink/prolink/internal/metrics"
	"github.com/djlink/prolink/internal/netselect"
	"github.com/djlink/prolink/internal/protocol"
	"github.com/djlink/prolink/internal/registry"
	"github.com/djlink/prolink/internal/status"
	"github.com/djlink/prolink/internal/transport"
	"github.com/djlink/prolink/internal/virtualdevice"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting prolink",
		"role", cfg.Role,
		"device_number", cfg.DeviceNumber,
		"debug_api_addr", cfg.DebugAPIAddr,
	)

	bus := eventbus.New(logger)

	hist, err := history.Open()
	if err != nil {
		slog.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	defer hist.Close()
	hist.Subscribe(bus)

	reg := &lazyRegistry{}
	vdHolder := &lazyVirtualDevice{}
	tracker := status.New(bus, cfg.TempoEpsilon)

	promReg := prometheus.NewRegistry()
	startTime := time.Now()
	collector := metrics.NewCollector(startTime, reg.count)
	if err := promReg.Register(collector); err != nil {
		slog.Error("failed to register metrics collector", "error", err)
		os.Exit(1)
	}

	bus.OnMasterChanged(func(eventbus.MasterChangedEvent) { collector.MasterChanged() })
	bus.OnTempoChanged(func(eventbus.TempoChangedEvent) { collector.TempoChanged() })
	bus.OnBeat(func(e eventbus.BeatEvent) { tracker.OnBeat(e) })

	finder := beatfinder.New(bus, collector, logger)

	dispatch := func(data []byte, port int, from *net.UDPAddr) {
		switch port {
		case protocol.PortAnnouncement:
			pkt, err := protocol.Decode(data, port)
			if err != nil {
				collector.PacketsRejected(port)
				return
			}
			collector.PacketsDecoded(port, pkt.Type())
			handleAnnouncementPacket(reg.get(), vdHolder.get(), pkt, from, logger)
		case protocol.PortBeat:
			finder.Handle(data, from)
		case protocol.PortStatus:
			pkt, err := protocol.Decode(data, port)
			if err != nil {
				collector.PacketsRejected(port)
				return
			}
			collector.PacketsDecoded(port, pkt.Type())
			handleStatusPacket(tracker, pkt)
		}
	}

	onAnnounceTick := func() {
		if r := reg.get(); r != nil {
			r.Expire(time.Now())
		}
	}

	tr, err := transport.New(logger, dispatch, onAnnounceTick)
	if err != nil {
		slog.Error("failed to bind udp sockets", "error", err)
		os.Exit(1)
	}

	realReg := registry.New(bus, tr.Announcement())
	reg.set(realReg)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	go tr.Run(appCtx)
	defer tr.Close()

	vdCtx, vdCancel := context.WithCancel(appCtx)
	defer vdCancel()

	var stopVD func()
	if cfg.EnableVirtualDevice {
		go func() {
			if vd := startVirtualDevice(vdCtx, cfg, tr, realReg, collector, logger); vd != nil {
				vdHolder.set(vd)
			}
		}()
		stopVD = func() {
			if vdHolder.get() != nil {
				vdCancel()
			}
		}
	}

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to prepare jwt secret", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	if cfg.DebugAPIAddr != "" {
		if token, expiresAt, err := middleware.GenerateControlToken(jwtSecret); err != nil {
			slog.Warn("failed to mint debug api control token", "error", err)
		} else {
			slog.Info("debug api control token minted", "expires_at", expiresAt, "bearer_token", token)
		}
		handler := api.New(realReg, tracker, hist, jwtSecret, stopVD, promReg)
		apiCtx, apiCancel := context.WithCancel(appCtx)
		defer apiCancel()
		go func() {
			slog.Info("debug api listening", "addr", cfg.DebugAPIAddr)
			if err := api.Run(apiCtx, cfg.DebugAPIAddr, handler); err != nil {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("debug api error", "error", err)
	}

	appCancel()
	slog.Info("prolink stopped")
}

// lazyRegistry lets the dispatch closure reference the registry before it
// exists: the registry itself needs the announcement socket, which is only
// available once the transport is bound, but the dispatch closure has to be
// handed to the transport before that. Guarded by a mutex since the
// transport's receive goroutines may already be running by the time set is
// called.
type lazyRegistry struct {
	mu sync.Mutex
	r  *registry.Registry
}

func (l *lazyRegistry) set(r *registry.Registry) {
	l.mu.Lock()
	l.r = r
	l.mu.Unlock()
}

func (l *lazyRegistry) get() *registry.Registry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r
}

func (l *lazyRegistry) count() int {
	r := l.get()
	if r == nil {
		return 0
	}
	return len(r.Snapshot())
}

// lazyVirtualDevice mirrors lazyRegistry for the virtual device, which
// isn't constructed (or may never be, if no peer is ever seen) until after
// the transport's receive loops have started.
type lazyVirtualDevice struct {
	mu sync.Mutex
	vd *virtualdevice.VirtualDevice
}

func (l *lazyVirtualDevice) set(vd *virtualdevice.VirtualDevice) {
	l.mu.Lock()
	l.vd = vd
	l.mu.Unlock()
}

func (l *lazyVirtualDevice) get() *virtualdevice.VirtualDevice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vd
}

// handleAnnouncementPacket routes a decoded port-50000 packet: keep-alives
// go to the device registry and also to the virtual device (so it can defend
// its number against them); every other claim-related packet goes to the
// virtual device's claim/defense state machine, per spec.md 4.2.
func handleAnnouncementPacket(reg *registry.Registry, vd *virtualdevice.VirtualDevice, pkt protocol.Packet, from *net.UDPAddr, logger *slog.Logger) {
	switch p := pkt.(type) {
	case *protocol.Announcement:
		if reg != nil {
			reg.OnAnnouncement(p.DeviceNumber, p.DeviceName, p.IP, p.MAC, time.Now())
		}
		if vd != nil {
			vd.HandlePacket(pkt, from)
		}
	case *protocol.Hello, *protocol.ClaimStage, *protocol.ClaimStage2,
		*protocol.WillAssign, *protocol.Assign, *protocol.AssignmentFinished,
		*protocol.InUse:
		if vd != nil {
			vd.HandlePacket(pkt, from)
		}
	default:
		logger.Debug("unhandled announcement-port packet", "type", pkt.Type())
	}
}

// handleStatusPacket routes a decoded port-50002 packet into the tempo
// master tracker. Mixer status packets don't carry a sync counter, so they
// tie-break as if sync counter were zero (spec.md 4.6).
func handleStatusPacket(tracker *status.Tracker, pkt protocol.Packet) {
	switch p := pkt.(type) {
	case *protocol.CDJStatus:
		tracker.OnStatus(p.DeviceNumber, p, p.SyncCounter)
	case *protocol.MixerStatus:
		tracker.OnStatus(p.DeviceNumber, p, 0)
	}
}

// startVirtualDevice selects a local interface once the first peer device
// has been seen, then starts the virtual device's claim/defense state
// machine in the background (spec.md 4.3, 4.5).
func startVirtualDevice(ctx context.Context, cfg *config.Config, tr *transport.Transport, reg *registry.Registry, collector *metrics.Collector, logger *slog.Logger) *virtualdevice.VirtualDevice {
	peer, err := waitForFirstPeer(ctx, reg)
	if err != nil {
		logger.Warn("virtual device disabled: no peer device seen", "error", err)
		return nil
	}

	iface, err := netselect.Select(peer, logger)
	if err != nil {
		logger.Error("virtual device disabled: could not select local interface", "error", err)
		return nil
	}
	mac, err := interfaceMAC(iface.Name)
	if err != nil {
		logger.Error("virtual device disabled: could not determine local MAC", "error", err, "interface", iface.Name)
		return nil
	}

	vdCfg := virtualdevice.Config{
		Role:                    cfg.VirtualDeviceRole(),
		UseStandardPlayerNumber: cfg.UseStandardPlayerNumber,
		DeviceNumber:            uint8(cfg.DeviceNumber),
		DeviceName:              cfg.DeviceName,
		AnnounceInterval:        time.Duration(cfg.AnnounceIntervalMs) * time.Millisecond,
		MAC:                     mac,
		IP:                      iface.IP,
		Broadcast:               iface.Broadcast,
	}

	vd := virtualdevice.New(vdCfg, tr.Announcement(), reg, collector, logger)
	reg.AddIgnoredAddress(iface.IP)

	go func() {
		if err := vd.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("virtual device stopped", "error", err)
		}
	}()

	return vd
}

// waitForFirstPeer blocks until the registry has seen at least one device,
// returning its address, or until ctx is cancelled.
func waitForFirstPeer(ctx context.Context, reg *registry.Registry) (net.IP, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, e := range reg.Snapshot() {
			return e.IP, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func interfaceMAC(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return iface.HardwareAddr, nil
}
