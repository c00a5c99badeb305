// Package protocol implements the Pioneer DJ Link wire codec: recognizing
// the protocol magic, dispatching on (port, type-byte), and decoding each
// known packet layout into a typed value.
package protocol

import "fmt"

// Magic is the fixed 10-byte header every DJ Link packet begins with
// ("Qspt1WmJOL" in ASCII).
var Magic = [10]byte{0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6d, 0x4a, 0x4f, 0x4c}

// Well-known UDP ports the protocol is spoken on.
const (
	PortAnnouncement = 50000
	PortBeat         = 50001
	PortStatus       = 50002
)

// typeOffset is the byte offset of the packet-type tag, just after the magic.
const typeOffset = 0x0a

// PacketType identifies a decoded packet's concrete shape.
type PacketType int

const (
	TypeUnknown PacketType = iota
	TypeAnnouncement
	TypeHello
	TypeDeviceNumberClaim1
	TypeDeviceNumberClaim2
	TypeDeviceNumberClaim3
	TypeDeviceNumberWillAssign
	TypeDeviceNumberAssign
	TypeDeviceNumberAssignmentFinished
	TypeDeviceNumberInUse
	TypeCDJStatus
	TypeMixerStatus
	TypeBeat
	TypeChannelsOnAir
	TypeSyncControl
	TypeMasterHandoffRequest
	TypeMasterHandoffResponse
	TypePrecisePosition
	TypeFaderStart
)

func (t PacketType) String() string {
	switch t {
	case TypeAnnouncement:
		return "Announcement"
	case TypeHello:
		return "Hello"
	case TypeDeviceNumberClaim1:
		return "DeviceNumberClaim1"
	case TypeDeviceNumberClaim2:
		return "DeviceNumberClaim2"
	case TypeDeviceNumberClaim3:
		return "DeviceNumberClaim3"
	case TypeDeviceNumberWillAssign:
		return "DeviceNumberWillAssign"
	case TypeDeviceNumberAssign:
		return "DeviceNumberAssign"
	case TypeDeviceNumberAssignmentFinished:
		return "DeviceNumberAssignmentFinished"
	case TypeDeviceNumberInUse:
		return "DeviceNumberInUse"
	case TypeCDJStatus:
		return "CDJStatus"
	case TypeMixerStatus:
		return "MixerStatus"
	case TypeBeat:
		return "Beat"
	case TypeChannelsOnAir:
		return "ChannelsOnAir"
	case TypeSyncControl:
		return "SyncControl"
	case TypeMasterHandoffRequest:
		return "MasterHandoffRequest"
	case TypeMasterHandoffResponse:
		return "MasterHandoffResponse"
	case TypePrecisePosition:
		return "PrecisePosition"
	case TypeFaderStart:
		return "FaderStart"
	default:
		return "Unknown"
	}
}

// Raw type-tag byte values. DEVICE_NUMBER_WILL_ASSIGN is not given an
// explicit byte value by the spec; 0x01 is the value used here. The
// port-50002 mixer-status variant shares tagStatus and is told apart by
// length (see mixerStatusLen).
const (
	tagAnnouncement                = 0x06
	tagHello                       = 0x0a
	tagDeviceNumberClaim1          = 0x00
	tagDeviceNumberClaim2          = 0x02
	tagDeviceNumberClaim3          = 0x04
	tagDeviceNumberWillAssign      = 0x01
	tagDeviceNumberAssign          = 0x03
	tagDeviceNumberAssignFinished  = 0x05
	tagDeviceNumberInUse           = 0x08
	tagStatus                      = 0x0a
	tagBeat                        = 0x28
	tagChannelsOnAir               = 0x03
	tagSyncControl                 = 0x2a
	tagMasterHandoffRequest        = 0x26
	tagMasterHandoffResponse       = 0x27
	tagPrecisePosition             = 0x0b
	tagFaderStart                  = 0x02
)

// mixerStatusLen is the fixed length of the shorter DJM "mixer status"
// variant of the shared type-0x0a status packet on port 50002. Mixers never
// pad or extend this packet the way CDJ firmware revisions do, so (unlike
// CDJStatus, which accepts a small family of lengths) exact length is the
// real discriminator here: a type-0x0a packet on port 50002 is a CDJStatus
// only at >= 0xcc bytes (invariant 4) and a MixerStatus only at exactly
// mixerStatusLen bytes. Anything else — including a truncated/malformed
// CDJStatus one byte short of 0xcc — is rejected rather than silently
// reinterpreted as the other shape (spec.md section 8 boundary behavior).
const mixerStatusLen = 0x35

// Packet is implemented by every decoded packet payload.
type Packet interface {
	Type() PacketType
}

// UnrecognizedError reports a packet PacketCodec declined to decode.
// Malformed/unrecognized packets are not fatal: callers count and drop the
// packet. The beat finder logs each one at debug level and cmd/prolink does
// not log them; no caller limits logging to once per distinct signature.
type UnrecognizedError struct {
	Port   int
	Reason string
}

func (e *UnrecognizedError) Error() string {
	return fmt.Sprintf("unrecognized packet on port %d: %s", e.Port, e.Reason)
}

// Decode recognizes the magic header, dispatches on (port, type-byte), and
// decodes the concrete payload. It never panics on malformed input.
func Decode(data []byte, port int) (Packet, error) {
	if len(data) < 0x0b {
		return nil, &UnrecognizedError{Port: port, Reason: "packet shorter than 11 bytes"}
	}
	for i, b := range Magic {
		if data[i] != b {
			return nil, &UnrecognizedError{Port: port, Reason: "magic mismatch"}
		}
	}

	tag := data[typeOffset]
	switch port {
	case PortAnnouncement:
		return decodeAnnouncementPort(data, tag)
	case PortBeat:
		return decodeBeatPort(data, tag)
	case PortStatus:
		return decodeStatusPort(data, tag)
	default:
		return nil, &UnrecognizedError{Port: port, Reason: "unknown port"}
	}
}

func decodeAnnouncementPort(data []byte, tag byte) (Packet, error) {
	switch tag {
	case tagAnnouncement:
		return decodeAnnouncement(data)
	case tagHello:
		return decodeHello(data)
	case tagDeviceNumberClaim1:
		return decodeClaimStage(data, TypeDeviceNumberClaim1)
	case tagDeviceNumberClaim2:
		return decodeClaimStage2(data)
	case tagDeviceNumberClaim3:
		return decodeClaimStage(data, TypeDeviceNumberClaim3)
	case tagDeviceNumberWillAssign:
		return decodeWillAssign(data)
	case tagDeviceNumberAssign:
		return decodeAssign(data)
	case tagDeviceNumberAssignFinished:
		return decodeAssignFinished(data)
	case tagDeviceNumberInUse:
		return decodeInUse(data)
	default:
		return nil, &UnrecognizedError{Port: PortAnnouncement, Reason: fmt.Sprintf("unknown type 0x%02x", tag)}
	}
}

func decodeBeatPort(data []byte, tag byte) (Packet, error) {
	switch tag {
	case tagBeat:
		return decodeBeat(data)
	case tagChannelsOnAir:
		return decodeChannelsOnAir(data)
	case tagSyncControl:
		return decodeSyncControl(data)
	case tagMasterHandoffRequest:
		return decodeMasterHandoffRequest(data)
	case tagMasterHandoffResponse:
		return decodeMasterHandoffResponse(data)
	case tagPrecisePosition:
		return decodePrecisePosition(data)
	case tagFaderStart:
		return decodeFaderStart(data)
	default:
		return nil, &UnrecognizedError{Port: PortBeat, Reason: fmt.Sprintf("unknown type 0x%02x", tag)}
	}
}

func decodeStatusPort(data []byte, tag byte) (Packet, error) {
	switch tag {
	case tagStatus:
		switch {
		case len(data) >= 0xcc:
			return decodeCDJStatus(data)
		case len(data) == mixerStatusLen:
			return decodeMixerStatus(data)
		default:
			return nil, &UnrecognizedError{Port: PortStatus, Reason: fmt.Sprintf("status packet length %d matches neither CDJStatus nor MixerStatus", len(data))}
		}
	default:
		return nil, &UnrecognizedError{Port: PortStatus, Reason: fmt.Sprintf("unknown type 0x%02x", tag)}
	}
}
