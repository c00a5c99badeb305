package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/djlink/prolink/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewBindsAllThreePorts(t *testing.T) {
	tr, err := New(testLogger(), func([]byte, int, *net.UDPAddr) {}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tr.Close()

	if tr.Announcement().Port() != protocol.PortAnnouncement {
		t.Errorf("announcement port = %d, want %d", tr.Announcement().Port(), protocol.PortAnnouncement)
	}
	if tr.Beat().Port() != protocol.PortBeat {
		t.Errorf("beat port = %d, want %d", tr.Beat().Port(), protocol.PortBeat)
	}
	if tr.Status().Port() != protocol.PortStatus {
		t.Errorf("status port = %d, want %d", tr.Status().Port(), protocol.PortStatus)
	}
}

func TestRunDispatchesReceivedDatagrams(t *testing.T) {
	var mu sync.Mutex
	var gotPort int
	var gotData []byte
	received := make(chan struct{}, 1)

	tr, err := New(testLogger(), func(data []byte, port int, from *net.UDPAddr) {
		mu.Lock()
		gotPort = port
		gotData = append([]byte(nil), data...)
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	conn, err := net.Dial("udp4", fmt.Sprintf("127.0.0.1:%d", protocol.PortBeat))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPort != protocol.PortBeat {
		t.Errorf("port = %d, want %d", gotPort, protocol.PortBeat)
	}
	if string(gotData) != "hello" {
		t.Errorf("data = %q, want %q", gotData, "hello")
	}
}
