package beatfinder

import (
	"testing"

	"github.com/djlink/prolink/internal/eventbus"
	"github.com/djlink/prolink/internal/protocol"
)

func buildBeatPacket(device uint8, bpm100 uint16, beatWithinBar uint8) []byte {
	data := make([]byte, 96)
	copy(data[:10], protocol.Magic[:])
	data[0x0a] = 0x28
	data[0x21] = device
	data[0x3c] = byte(bpm100 >> 8)
	data[0x3d] = byte(bpm100)
	data[0x5e] = beatWithinBar
	return data
}

func TestHandleBeatPublishesBeatEvent(t *testing.T) {
	bus := eventbus.New(nil)
	var got []eventbus.BeatEvent
	bus.OnBeat(func(e eventbus.BeatEvent) { got = append(got, e) })

	f := New(bus, nil, nil)
	f.Handle(buildBeatPacket(3, 12800, 2), nil)

	if len(got) != 1 {
		t.Fatalf("beat events = %d, want 1", len(got))
	}
	if got[0].DeviceNumber != 3 || got[0].BPM != 128.0 || got[0].BeatWithinBar != 2 {
		t.Errorf("beat event = %+v", got[0])
	}
}

func TestHandleUnrecognizedDoesNotPublish(t *testing.T) {
	bus := eventbus.New(nil)
	var got []eventbus.BeatEvent
	bus.OnBeat(func(e eventbus.BeatEvent) { got = append(got, e) })

	f := New(bus, nil, nil)
	f.Handle([]byte{0x00, 0x01, 0x02}, nil)

	if len(got) != 0 {
		t.Fatalf("beat events fired for garbage input: %d", len(got))
	}
}

func TestHandleFaderStartIsSilent(t *testing.T) {
	bus := eventbus.New(nil)
	data := make([]byte, 16)
	copy(data[:10], protocol.Magic[:])
	data[0x0a] = 0x02

	f := New(bus, nil, nil)
	f.Handle(data, nil) // must not panic
}
