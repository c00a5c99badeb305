package protocol

import "fmt"

// MixerStatus is the shorter status variant mixers send on port 50002 with
// the same type-0x0a tag as CDJStatus but a much smaller fixed length
// (spec.md section 3 Entities table).
type MixerStatus struct {
	DeviceNumber uint8
	BPM100       uint16
	Pitch        uint32
	BeatWithinBar uint8
	Flags        StatusFlags
}

func (MixerStatus) Type() PacketType { return TypeMixerStatus }

func decodeMixerStatus(data []byte) (Packet, error) {
	if len(data) != mixerStatusLen {
		return nil, &UnrecognizedError{Port: PortStatus, Reason: fmt.Sprintf("mixer status length %d != %#x", len(data), mixerStatusLen)}
	}
	return &MixerStatus{
		DeviceNumber:  data[0x21],
		BPM100:        readU16BE(data, 0x0d),
		Pitch:         readU24BE(data, 0x10),
		BeatWithinBar: data[0x13],
		Flags:         statusFlagsFromByte(data[0x14]),
	}, nil
}

// IsTempoMaster reports whether this status reports its sender as the
// current tempo master.
func (m *MixerStatus) IsTempoMaster() bool { return m.Flags.Master }

// EffectiveBPM returns the displayed BPM (BPM100/100).
func (m *MixerStatus) EffectiveBPM() float64 { return float64(m.BPM100) / 100 }
