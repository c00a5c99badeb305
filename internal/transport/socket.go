// Package transport owns the three well-known DJ Link UDP sockets (50000
// announcement/claim, 50001 beat, 50002 status), one goroutine per socket
// doing nothing but parse-and-dispatch, matching the hot-path discipline
// spec.md section 5 requires of receive threads. The goroutine/buffer/
// ignore-list shape is grounded on the teacher's internal/media/relay.go
// and internal/media/proxy.go (per-leg receive loop, learned/ignored
// remote addresses, mutex-guarded shared state).
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// recvBufferSize is the fixed per-packet receive buffer. DJ Link packets
// are well under 1420 bytes; this leaves generous headroom (spec.md 4.2).
const recvBufferSize = 1500

// Handler is invoked once per received, non-ignored datagram. It must
// return promptly — it runs on the socket's own receive goroutine
// (spec.md section 5's "callbacks must finish promptly" contract).
type Handler func(data []byte, from *net.UDPAddr)

// Socket owns one UDP port for both receive and send. Receives are owned
// exclusively by the socket's single receive goroutine; sends are safe to
// call concurrently from any goroutine (OS-queued, spec.md 4.2/5).
type Socket struct {
	port    int
	conn    *net.UDPConn
	logger  *slog.Logger
	handler Handler

	ignoreMu sync.RWMutex
	ignored  map[string]struct{}

	sendLimiter *rate.Limiter

	onTick      func() // invoked on each read-timeout tick, used for expiry sweeps
	readTimeout time.Duration

	running atomic32
	done    chan struct{}
}

// atomic32 is a tiny bool flag safe for concurrent read from the send path
// and write from Close.
type atomic32 struct {
	mu sync.Mutex
	v  bool
}

func (a *atomic32) set(v bool) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomic32) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// Options configures a Socket.
type Options struct {
	// ReadTimeout, if non-zero, bounds each receive so onTick can run
	// periodically (used on port 50000 for the 1-second expiry sweep,
	// spec.md 4.4/5).
	ReadTimeout time.Duration
	OnTick      func()
	// SendRate/SendBurst bound outbound broadcast/unicast rate so a storm
	// of rogue claim traffic cannot make us flood the network defending
	// our device number (spec.md's domain-stack rate limiting, grounded on
	// the teacher's golang.org/x/time/rate usage in middleware/ratelimit.go).
	SendRate  rate.Limit
	SendBurst int
}

// Bind opens a UDP socket on the given port, bound to all interfaces.
func Bind(port int, logger *slog.Logger, handler Handler, opts Options) (*Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding udp port %d: %w", port, err)
	}
	if opts.SendRate == 0 {
		opts.SendRate = rate.Inf
	}
	if opts.SendBurst == 0 {
		opts.SendBurst = 32
	}
	s := &Socket{
		port:        port,
		conn:        conn,
		logger:      logger.With("subsystem", "transport", "port", port),
		handler:     handler,
		ignored:     make(map[string]struct{}),
		sendLimiter: rate.NewLimiter(opts.SendRate, opts.SendBurst),
		onTick:      opts.OnTick,
		done:        make(chan struct{}),
	}
	s.readTimeout = opts.ReadTimeout
	if opts.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	}
	return s, nil
}

// Run starts the receive loop. It blocks until the socket is closed or ctx
// is cancelled, and never returns an error for the ordinary "Close was
// called while we were running" shutdown path (spec.md 4.2, 7.3).
func (s *Socket) Run(ctx context.Context) {
	s.running.set(true)
	defer close(s.done)

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, recvBufferSize)
	for {
		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if s.onTick != nil {
					s.onTick()
				}
				continue
			}
			if !s.running.get() {
				// Shutting down: exit silently (spec.md 7.3, 7.5).
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Error("udp receive error, shutting down socket", "error", err)
			s.running.set(false)
			return
		}

		if s.isIgnored(addr.IP.String()) {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.handler(data, addr)
	}
}

// Close stops the receive loop (if running) and releases the socket.
func (s *Socket) Close() error {
	s.running.set(false)
	err := s.conn.Close()
	return err
}

// AddIgnoredAddress marks a source IP whose datagrams should be silently
// dropped, typically our own broadcast address (spec.md 4.2).
func (s *Socket) AddIgnoredAddress(ip net.IP) {
	s.ignoreMu.Lock()
	s.ignored[ip.String()] = struct{}{}
	s.ignoreMu.Unlock()
}

// RemoveIgnoredAddress reverses AddIgnoredAddress.
func (s *Socket) RemoveIgnoredAddress(ip net.IP) {
	s.ignoreMu.Lock()
	delete(s.ignored, ip.String())
	s.ignoreMu.Unlock()
}

func (s *Socket) isIgnored(ip string) bool {
	s.ignoreMu.RLock()
	defer s.ignoreMu.RUnlock()
	_, ok := s.ignored[ip]
	return ok
}

// Send unicasts data to addr. Safe to call from any goroutine.
func (s *Socket) Send(data []byte, addr *net.UDPAddr) error {
	_ = s.sendLimiter.Wait(context.Background())
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

// Broadcast sends data to the given broadcast address on this socket's
// port. Safe to call from any goroutine.
func (s *Socket) Broadcast(data []byte, broadcast net.IP) error {
	return s.Send(data, &net.UDPAddr{IP: broadcast, Port: s.port})
}

// Port returns the UDP port this socket is bound to.
func (s *Socket) Port() int { return s.port }
