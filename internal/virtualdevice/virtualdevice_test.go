package virtualdevice

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/djlink/prolink/internal/eventbus"
	"github.com/djlink/prolink/internal/protocol"
	"github.com/djlink/prolink/internal/registry"
	"github.com/djlink/prolink/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCandidatesFixedNumber(t *testing.T) {
	vd := New(Config{DeviceNumber: 9}, nil, nil, nil, nil)
	got := vd.candidates()
	if len(got) != 1 || got[0] != 9 {
		t.Fatalf("candidates = %v, want [9]", got)
	}
}

func TestCandidatesStandardPlayerNumbers(t *testing.T) {
	vd := New(Config{UseStandardPlayerNumber: true}, nil, nil, nil, nil)
	got := vd.candidates()
	want := []uint8{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", got, want)
		}
	}
}

func TestCandidatesDefaultCDJRange(t *testing.T) {
	vd := New(Config{}, nil, nil, nil, nil)
	got := vd.candidates()
	if len(got) != 9 || got[0] != 7 || got[len(got)-1] != 15 {
		t.Fatalf("candidates = %v, want 7..15", got)
	}
}

func TestCandidatesRekordboxRange(t *testing.T) {
	vd := New(Config{Role: RoleRekordbox}, nil, nil, nil, nil)
	got := vd.candidates()
	if got[0] != 0x13 || got[len(got)-1] != 0x27 {
		t.Fatalf("candidates = %#v, want 0x13..0x27", got)
	}
}

func TestDefendIfNeededSendsInUseToCollidingSender(t *testing.T) {
	logger := testLogger()
	bus := eventbus.New(logger)
	reg := registry.New(bus, nil)

	sock, err := transport.Bind(0, logger, func([]byte, *net.UDPAddr) {}, transport.Options{})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer sock.Close()

	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	vd := New(Config{DeviceNumber: 5, MAC: net.HardwareAddr{0xc0, 0xa8, 0x02, 0x0b, 0x04, 0x01}}, sock, reg, nil, logger)

	from := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: listener.LocalAddr().(*net.UDPAddr).Port}
	vd.defendIfNeeded(inboundEvent{pkt: &protocol.Announcement{DeviceNumber: 5}, from: from})

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a defense reply, got error: %v", err)
	}
	pkt, err := protocol.Decode(buf[:n], protocol.PortAnnouncement)
	if err != nil {
		t.Fatalf("decode defense reply: %v", err)
	}
	inUse, ok := pkt.(*protocol.InUse)
	if !ok {
		t.Fatalf("reply type = %T, want *protocol.InUse", pkt)
	}
	if inUse.DeviceNumber != 5 {
		t.Errorf("InUse.DeviceNumber = %d, want 5", inUse.DeviceNumber)
	}
}

func TestDefendIfNeededIgnoresNonCollidingSender(t *testing.T) {
	logger := testLogger()
	bus := eventbus.New(logger)
	reg := registry.New(bus, nil)

	sock, err := transport.Bind(0, logger, func([]byte, *net.UDPAddr) {}, transport.Options{})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer sock.Close()

	vd := New(Config{DeviceNumber: 5}, sock, reg, nil, logger)
	vd.defendIfNeeded(inboundEvent{pkt: &protocol.Announcement{DeviceNumber: 6}, from: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}})
	// No assertion beyond "does not panic": device number 6 does not match
	// our claimed number 5, so no reply should be attempted.
}
