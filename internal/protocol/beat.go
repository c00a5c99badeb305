package protocol

import "fmt"

// Beat is delivered once per beat, decoded from the exact-96-byte type
// 0x28 packet on port 50001 (spec.md sections 4.1, 4.7, 8).
type Beat struct {
	DeviceNumber  uint8
	Pitch         uint32
	BPM100        uint16
	BeatWithinBar uint8
	NextBeatMs    uint32
	NextBarMs     uint32
}

func (Beat) Type() PacketType { return TypeBeat }

func decodeBeat(data []byte) (Packet, error) {
	if len(data) != 96 {
		return nil, &UnrecognizedError{Port: PortBeat, Reason: fmt.Sprintf("beat length %d != 96", len(data))}
	}
	return &Beat{
		DeviceNumber:  data[0x21],
		Pitch:         readU24BE(data, 0x24),
		BPM100:        readU16BE(data, 0x3c),
		BeatWithinBar: data[0x5e],
		NextBeatMs:    readU32BE(data, 0x3e),
		NextBarMs:     readU32BE(data, 0x42),
	}, nil
}

// EffectiveBPM returns the displayed BPM (BPM100/100).
func (b *Beat) EffectiveBPM() float64 { return float64(b.BPM100) / 100 }

// PrecisePosition is decoded from the port-50001 type 0x0b packet present
// on CDJ-3000-class players (spec.md section 4.1).
type PrecisePosition struct {
	DeviceNumber  uint8
	BeatNumber    uint32
	PositionMs    uint32
	Pitch         uint32
	BPM100        uint16
}

func (PrecisePosition) Type() PacketType { return TypePrecisePosition }

func decodePrecisePosition(data []byte) (Packet, error) {
	if len(data) < 0x38 {
		return nil, &UnrecognizedError{Port: PortBeat, Reason: fmt.Sprintf("precise position length %d < 0x38", len(data))}
	}
	return &PrecisePosition{
		DeviceNumber: data[0x21],
		BeatNumber:   readU32BE(data, 0x24),
		PositionMs:   readU32BE(data, 0x28),
		Pitch:        readU24BE(data, 0x2c),
		BPM100:       readU16BE(data, 0x30),
	}, nil
}

// ChannelsOnAir carries which of up to 4 mixer channels are audible,
// decoded from bytes 0x24..0x27 of the type 0x03 packet (spec.md 4.7).
type ChannelsOnAir struct {
	OnAir [4]bool
}

func (ChannelsOnAir) Type() PacketType { return TypeChannelsOnAir }

func decodeChannelsOnAir(data []byte) (Packet, error) {
	if len(data) < 0x2d {
		return nil, &UnrecognizedError{Port: PortBeat, Reason: fmt.Sprintf("channels-on-air length %d < 0x2d", len(data))}
	}
	var c ChannelsOnAir
	for i := 0; i < 4; i++ {
		c.OnAir[i] = data[0x24+i] != 0
	}
	return &c, nil
}

// SyncAction is the decoded sub-type of a sync-control packet.
type SyncAction int

const (
	SyncActionUnknown SyncAction = iota
	SyncActionBecomeMaster
	SyncActionSyncOn
	SyncActionSyncOff
)

// SyncControl is decoded from the type 0x2a packet on port 50001
// (spec.md 4.7). Per spec.md 9.5.1, the become-master / sync-on /
// sync-off cases are treated as disjoint here — the upstream source has a
// historical fallthrough from become-master into sync-on that this
// implementation does not reproduce, since spec.md directs that the two be
// modeled as distinct events and only flags the ambiguity.
type SyncControl struct {
	DeviceNumber uint8
	Action       SyncAction
}

func (SyncControl) Type() PacketType { return TypeSyncControl }

func decodeSyncControl(data []byte) (Packet, error) {
	if len(data) < 0x2c {
		return nil, &UnrecognizedError{Port: PortBeat, Reason: fmt.Sprintf("sync-control length %d < 0x2c", len(data))}
	}
	var action SyncAction
	switch data[0x2b] {
	case 0x01:
		action = SyncActionBecomeMaster
	case 0x10:
		action = SyncActionSyncOn
	case 0x20:
		action = SyncActionSyncOff
	default:
		action = SyncActionUnknown
	}
	return &SyncControl{DeviceNumber: data[0x21], Action: action}, nil
}

// MasterHandoffRequest is sent by a device that wants to become master to
// the current master (type 0x26, spec.md 4.6). The single device-number
// field at 0x21 serves double duty: it is both the sender's own number and
// (from the receiving master's point of view) the device it is being asked
// to yield to — spec.md's packet table calls it "yield-to device".
type MasterHandoffRequest struct {
	FromDevice uint8
}

func (MasterHandoffRequest) Type() PacketType { return TypeMasterHandoffRequest }

func decodeMasterHandoffRequest(data []byte) (Packet, error) {
	if len(data) < 0x28 {
		return nil, &UnrecognizedError{Port: PortBeat, Reason: fmt.Sprintf("master-handoff-request length %d < 0x28", len(data))}
	}
	return &MasterHandoffRequest{
		FromDevice: data[0x21],
	}, nil
}

// MasterHandoffResponse is the current master's reply: yielded (0x01) or
// refused (0x00) (type 0x27, spec.md 4.6).
type MasterHandoffResponse struct {
	FromDevice uint8
	Yielded    bool
}

func (MasterHandoffResponse) Type() PacketType { return TypeMasterHandoffResponse }

func decodeMasterHandoffResponse(data []byte) (Packet, error) {
	if len(data) < 0x2c {
		return nil, &UnrecognizedError{Port: PortBeat, Reason: fmt.Sprintf("master-handoff-response length %d < 0x2c", len(data))}
	}
	return &MasterHandoffResponse{
		FromDevice: data[0x21],
		Yielded:    data[0x2b] == 0x01,
	}, nil
}

// FaderStart is a documented TODO in the upstream source (spec.md 9.5.3):
// accept and length-check the packet, decode nothing, never error.
type FaderStart struct{}

func (FaderStart) Type() PacketType { return TypeFaderStart }

func decodeFaderStart(data []byte) (Packet, error) {
	return &FaderStart{}, nil
}
