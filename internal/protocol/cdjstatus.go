package protocol

import (
	"fmt"
)

// PlayState is the play-state-1 enum at offset 0x7b.
type PlayState int

const (
	PlayStateUnknown PlayState = iota
	PlayStateNoTrack
	PlayStateLoading
	PlayStatePlaying
	PlayStateLooping
	PlayStatePaused
	PlayStateCued
	PlayStateCuePlaying
	PlayStateCueScratching
	PlayStateSearching
	PlayStateEnded
)

func playStateFromByte(b byte) PlayState {
	switch b {
	case 0:
		return PlayStateNoTrack
	case 2:
		return PlayStateLoading
	case 3:
		return PlayStatePlaying
	case 4:
		return PlayStateLooping
	case 5:
		return PlayStatePaused
	case 6:
		return PlayStateCued
	case 7:
		return PlayStateCuePlaying
	case 8:
		return PlayStateCueScratching
	case 9:
		return PlayStateSearching
	case 17:
		return PlayStateEnded
	default:
		return PlayStateUnknown
	}
}

// MotionState is the play-state-2 enum at offset 0x8b.
type MotionState int

const (
	MotionUnknown MotionState = iota
	MotionMoving
	MotionStopped
)

func motionStateFromByte(b byte) MotionState {
	switch b {
	case 0x6a, 0x7a, 0xfa:
		return MotionMoving
	case 0x6e, 0x7e, 0xfe:
		return MotionStopped
	default:
		return MotionUnknown
	}
}

// PlaybackMode is the play-state-3 enum at offset 0x9d.
type PlaybackMode int

const (
	PlaybackModeNone PlaybackMode = iota
	PlaybackModePausedOrReverse
	PlaybackModeForwardVinyl
	PlaybackModeForwardCDJ
)

func playbackModeFromByte(b byte) PlaybackMode {
	switch b {
	case 0:
		return PlaybackModeNone
	case 1:
		return PlaybackModePausedOrReverse
	case 9:
		return PlaybackModeForwardVinyl
	case 13:
		return PlaybackModeForwardCDJ
	default:
		return PlaybackModeNone
	}
}

// TrackSourceSlot is the media slot a loaded track came from, offset 0x29.
type TrackSourceSlot int

const (
	SlotNone TrackSourceSlot = iota
	SlotCD
	SlotSD
	SlotUSB
	SlotCollection
	SlotUnknown
)

func trackSourceSlotFromByte(b byte) TrackSourceSlot {
	switch b {
	case 0:
		return SlotNone
	case 1:
		return SlotCD
	case 2:
		return SlotSD
	case 3:
		return SlotUSB
	case 4:
		return SlotCollection
	default:
		return SlotUnknown
	}
}

// TrackType identifies how the loaded track was analyzed, offset 0x2a.
type TrackType int

const (
	TrackTypeNone TrackType = iota
	TrackTypeRekordbox
	TrackTypeUnanalyzed
	TrackTypeCDDigitalAudio
	TrackTypeUnknown
)

func trackTypeFromByte(b byte) TrackType {
	switch b {
	case 0:
		return TrackTypeNone
	case 1:
		return TrackTypeRekordbox
	case 2:
		return TrackTypeUnanalyzed
	case 5:
		return TrackTypeCDDigitalAudio
	default:
		return TrackTypeUnknown
	}
}

// StatusFlags decodes the status byte at offset 0x89.
type StatusFlags struct {
	Playing bool
	Sync    bool
	Master  bool
	OnAir   bool
}

func statusFlagsFromByte(b byte) StatusFlags {
	return StatusFlags{
		Playing: b&0x40 != 0,
		Sync:    b&0x10 != 0,
		Master:  b&0x08 != 0,
		OnAir:   b&0x02 != 0,
	}
}

// CDJStatus is the per-device status broadcast on port 50002, type 0x0a,
// decoded per spec.md section 4.1. Every instance has passed the size and
// magic validation required by invariant 4.
type CDJStatus struct {
	DeviceNumber       uint8
	TrackSourcePlayer  uint8
	TrackSourceSlot    TrackSourceSlot
	TrackType          TrackType
	RekordboxID        uint32
	Pitch1             uint32
	Pitch2             uint32
	Pitch3             uint32
	Pitch4             uint32
	BPM100             uint16
	Flags              StatusFlags
	PlayState          PlayState
	Firmware           string
	Motion             MotionState
	PlaybackMode       PlaybackMode
	BeatWithinBar      uint8
	BeatCounter        int64 // -1 if unknown (wire value 0xffffffff)
	CueCountdown       uint16
	SyncCounter        uint32
	PacketSequence     uint32
	MasterHandoffTo    uint8 // 0xff if none
}

func (CDJStatus) Type() PacketType { return TypeCDJStatus }

func decodeCDJStatus(data []byte) (Packet, error) {
	if len(data) < 0xcc {
		return nil, &UnrecognizedError{Port: PortStatus, Reason: fmt.Sprintf("cdj status length %d < 0xcc", len(data))}
	}
	switch len(data) {
	case 0xd0, 0xd4, 0x11c, 0x124:
		// expected lengths, no warning
	default:
		// other lengths >= 0xcc are decoded the same way; no warning is
		// logged for them, here or by any caller.
	}

	beatCounter := int64(readU32BE(data, 0xa0))
	if beatCounter == 0xffffffff {
		beatCounter = -1
	}

	s := &CDJStatus{
		DeviceNumber:      data[0x21],
		TrackSourcePlayer: data[0x28],
		TrackSourceSlot:   trackSourceSlotFromByte(data[0x29]),
		TrackType:         trackTypeFromByte(data[0x2a]),
		RekordboxID:       readU32BE(data, 0x2c),
		Pitch1:            readU24BE(data, 0x8d),
		Pitch2:            readU24BE(data, 0x99),
		Pitch3:            readU24BE(data, 0xc1),
		Pitch4:            readU24BE(data, 0xc5),
		BPM100:            readU16BE(data, 0x92),
		Flags:             statusFlagsFromByte(data[0x89]),
		PlayState:         playStateFromByte(data[0x7b]),
		Firmware:          trimName(data[0x7c : 0x7c+4]),
		Motion:            motionStateFromByte(data[0x8b]),
		PlaybackMode:      playbackModeFromByte(data[0x9d]),
		BeatWithinBar:     data[0xa6],
		BeatCounter:       beatCounter,
		CueCountdown:      readU16BE(data, 0xa4),
		SyncCounter:       readU32BE(data, 0x84),
		PacketSequence:    readU32BE(data, 0xc8),
		MasterHandoffTo:   data[0x9f],
	}
	return s, nil
}

// IsTempoMaster reports whether this status reports its sender as the
// current tempo master (status flags bit, spec.md 4.6).
func (s *CDJStatus) IsTempoMaster() bool { return s.Flags.Master }

// EffectiveBPM returns the displayed BPM (BPM100/100).
func (s *CDJStatus) EffectiveBPM() float64 { return float64(s.BPM100) / 100 }
