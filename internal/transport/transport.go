package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Transport owns the three well-known DJ Link sockets and fans received
// datagrams out to a single dispatch handler along with the port they
// arrived on (spec.md 4.2).
type Transport struct {
	announcement *Socket
	beat         *Socket
	status       *Socket

	wg sync.WaitGroup
}

// Dispatch is called once per accepted datagram, tagged with the port it
// arrived on.
type Dispatch func(data []byte, port int, from *net.UDPAddr)

// defenseRate bounds every send on the announcement socket (keep-alives,
// claim bursts and DEVICE_NUMBER_IN_USE replies alike), so a flood of rogue
// claim packets cannot make us flood the network defending. The limit is
// shared by all peers, not kept per sender (see SPEC_FULL.md domain stack
// table).
const defenseRate = 5 // per second

// New binds all three sockets without starting their receive loops. Binding
// is split from Run so callers can wire consumers that need a live socket
// reference (DeviceRegistry's ignore-list forwarding) before any datagram
// can possibly be dispatched (spec.md 4.2, 4.4).
func New(logger *slog.Logger, dispatch Dispatch, onAnnounceTick func()) (*Transport, error) {
	t := &Transport{}

	var err error
	t.announcement, err = Bind(50000, logger, func(data []byte, from *net.UDPAddr) {
		dispatch(data, 50000, from)
	}, Options{
		ReadTimeout: 1 * time.Second,
		OnTick:      onAnnounceTick,
		SendRate:    defenseRate,
		SendBurst:   10,
	})
	if err != nil {
		return nil, err
	}

	t.beat, err = Bind(50001, logger, func(data []byte, from *net.UDPAddr) {
		dispatch(data, 50001, from)
	}, Options{SendRate: rate.Inf})
	if err != nil {
		t.announcement.Close()
		return nil, err
	}

	t.status, err = Bind(50002, logger, func(data []byte, from *net.UDPAddr) {
		dispatch(data, 50002, from)
	}, Options{SendRate: rate.Inf})
	if err != nil {
		t.announcement.Close()
		t.beat.Close()
		return nil, fmt.Errorf("binding status socket: %w", err)
	}
	return t, nil
}

// Run starts all three sockets' receive loops and blocks until ctx is
// cancelled and every loop has exited.
func (t *Transport) Run(ctx context.Context) {
	for _, sock := range []*Socket{t.announcement, t.beat, t.status} {
		sock := sock
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			sock.Run(ctx)
		}()
	}
	t.wg.Wait()
}

// Start binds all three sockets and begins their receive loops immediately;
// a convenience for callers with no need to wire a socket reference in
// between binding and running (e.g. tests).
func Start(ctx context.Context, logger *slog.Logger, dispatch Dispatch, onAnnounceTick func()) (*Transport, error) {
	t, err := New(logger, dispatch, onAnnounceTick)
	if err != nil {
		return nil, err
	}
	go t.Run(ctx)
	return t, nil
}

// Announcement returns the port-50000 socket (announcement/claim/defense).
func (t *Transport) Announcement() *Socket { return t.announcement }

// Beat returns the port-50001 socket (beat/sync/handoff/precise-position).
func (t *Transport) Beat() *Socket { return t.beat }

// Status returns the port-50002 socket (CDJ/mixer status).
func (t *Transport) Status() *Socket { return t.status }

// Close closes all three sockets and waits for their receive loops to exit.
func (t *Transport) Close() error {
	t.announcement.Close()
	t.beat.Close()
	t.status.Close()
	t.wg.Wait()
	return nil
}
