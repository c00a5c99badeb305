package protocol

import (
	"net"
	"testing"
)

func buildAnnouncement(deviceNumber byte, name string, ip net.IP, mac net.HardwareAddr) []byte {
	buf := make([]byte, 54)
	copy(buf[0:10], Magic[:])
	buf[0x0a] = tagAnnouncement
	copy(buf[0x0c:0x0c+deviceNameLen], []byte(name))
	buf[0x24] = deviceNumber
	copy(buf[0x26:0x26+6], mac)
	copy(buf[0x2c:0x2c+4], ip.To4())
	return buf
}

func TestDecodeAnnouncement(t *testing.T) {
	ip := net.ParseIP("192.168.2.11")
	mac, _ := net.ParseMAC("c0:a8:02:0b:04:01")
	data := buildAnnouncement(0x02, "CDJ-900", ip, mac)

	pkt, err := Decode(data, PortAnnouncement)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	a, ok := pkt.(*Announcement)
	if !ok {
		t.Fatalf("Decode() returned %T, want *Announcement", pkt)
	}
	if a.DeviceNumber != 0x02 {
		t.Errorf("DeviceNumber = %d, want 2", a.DeviceNumber)
	}
	if a.DeviceName != "CDJ-900" {
		t.Errorf("DeviceName = %q, want CDJ-900", a.DeviceName)
	}
	if !a.IP.Equal(ip) {
		t.Errorf("IP = %v, want %v", a.IP, ip)
	}
	if a.MAC.String() != mac.String() {
		t.Errorf("MAC = %v, want %v", a.MAC, mac)
	}
}

func TestDecodeRejectsBoundaries(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		port int
	}{
		{"empty", nil, PortAnnouncement},
		{"9 bytes", make([]byte, 9), PortAnnouncement},
		{"magic mismatch", append(make([]byte, 10), 0x06), PortAnnouncement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data, tt.port); err == nil {
				t.Errorf("Decode(%v) expected error, got nil", tt.data)
			}
		})
	}
}

func buildBeat(bpm100 uint16, pitch uint32, beatWithinBar byte) []byte {
	buf := make([]byte, 96)
	copy(buf[0:10], Magic[:])
	buf[0x0a] = tagBeat
	buf[0x21] = 5
	buf[0x24] = byte(pitch >> 16)
	buf[0x25] = byte(pitch >> 8)
	buf[0x26] = byte(pitch)
	buf[0x3c] = byte(bpm100 >> 8)
	buf[0x3d] = byte(bpm100)
	buf[0x5e] = beatWithinBar
	return buf
}

func TestDecodeBeat(t *testing.T) {
	data := buildBeat(12050, 1048576, 3)
	pkt, err := Decode(data, PortBeat)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	b, ok := pkt.(*Beat)
	if !ok {
		t.Fatalf("Decode() returned %T, want *Beat", pkt)
	}
	if b.BPM100 != 12050 {
		t.Errorf("BPM100 = %d, want 12050", b.BPM100)
	}
	if b.Pitch != 1048576 {
		t.Errorf("Pitch = %d, want 1048576", b.Pitch)
	}
	if b.BeatWithinBar != 3 {
		t.Errorf("BeatWithinBar = %d, want 3", b.BeatWithinBar)
	}
	if diff := b.EffectiveBPM() - 120.50; diff > 0.005 || diff < -0.005 {
		t.Errorf("EffectiveBPM() = %v, want ~120.50", b.EffectiveBPM())
	}
}

func TestDecodeBeatWrongLength(t *testing.T) {
	if _, err := Decode(buildBeat(12050, 1048576, 3)[:95], PortBeat); err == nil {
		t.Errorf("expected error for wrong-length beat packet")
	}
}

func buildCDJStatus(length int) []byte {
	buf := make([]byte, length)
	copy(buf[0:10], Magic[:])
	buf[0x0a] = tagStatus
	return buf
}

func TestDecodeCDJStatusBoundary(t *testing.T) {
	if _, err := Decode(buildCDJStatus(0xcc), PortStatus); err != nil {
		t.Errorf("0xcc-byte status packet should decode as CDJStatus, got error: %v", err)
	}
	if _, err := Decode(buildCDJStatus(0xcb), PortStatus); err == nil {
		t.Errorf("0xcb-byte status packet should be rejected, not reinterpreted as MixerStatus")
	}
}

func TestDecodeMixerStatus(t *testing.T) {
	buf := buildCDJStatus(mixerStatusLen)
	buf[0x21] = 0x21
	pkt, err := Decode(buf, PortStatus)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	m, ok := pkt.(*MixerStatus)
	if !ok {
		t.Fatalf("Decode() returned %T, want *MixerStatus", pkt)
	}
	if m.DeviceNumber != 0x21 {
		t.Errorf("DeviceNumber = %d, want 0x21", m.DeviceNumber)
	}
}

func TestBeatCounterSentinel(t *testing.T) {
	buf := buildCDJStatus(0xd0)
	buf[0x21] = 1
	for i := 0; i < 4; i++ {
		buf[0xa0+i] = 0xff
	}
	pkt, err := Decode(buf, PortStatus)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	s := pkt.(*CDJStatus)
	if s.BeatCounter != -1 {
		t.Errorf("BeatCounter = %d, want -1 for 0xffffffff wire value", s.BeatCounter)
	}
}

func TestPitchPercentageSamples(t *testing.T) {
	tests := []struct {
		raw  uint32
		want float64
	}{
		{0, -100.0},
		{1048576, 0.0},
		{2097152, 100.0},
	}
	for _, tt := range tests {
		got := PitchToPercentage(tt.raw)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("PitchToPercentage(%d) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
