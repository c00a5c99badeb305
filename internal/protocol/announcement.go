package protocol

import (
	"bytes"
	"fmt"
	"net"
)

// Announcement is the keep-alive broadcast a device sends once it is
// Active (spec.md 4.5 step 7) and the packet decoded into a device-found /
// device-update event by DeviceRegistry.
type Announcement struct {
	DeviceName   string
	DeviceNumber uint8
	MAC          net.HardwareAddr
	IP           net.IP
}

func (Announcement) Type() PacketType { return TypeAnnouncement }

// deviceNameLen is the fixed width of the ASCII device-name field; trailing
// NUL padding is trimmed on decode.
const deviceNameLen = 20

func trimName(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

func decodeAnnouncement(data []byte) (Packet, error) {
	if len(data) != 54 {
		return nil, &UnrecognizedError{Port: PortAnnouncement, Reason: fmt.Sprintf("announcement length %d != 54", len(data))}
	}
	return &Announcement{
		DeviceName:   trimName(data[0x0c : 0x0c+deviceNameLen]),
		DeviceNumber: data[0x24],
		MAC:          net.HardwareAddr(append([]byte(nil), data[0x26:0x26+6]...)),
		IP:           net.IP(append([]byte(nil), data[0x2c:0x2c+4]...)),
	}, nil
}

// Hello is the first broadcast a joining virtual device sends while still
// probing the network before it has chosen a candidate device number.
type Hello struct {
	MAC net.HardwareAddr
}

func (Hello) Type() PacketType { return TypeHello }

func decodeHello(data []byte) (Packet, error) {
	if len(data) < 0x26+6 {
		return nil, &UnrecognizedError{Port: PortAnnouncement, Reason: "hello packet too short"}
	}
	return &Hello{MAC: net.HardwareAddr(append([]byte(nil), data[0x26:0x26+6]...))}, nil
}

// ClaimStage is a stage-1 or stage-3 device-number claim broadcast. Both
// carry the sender's MAC and a 1..3 packet counter identifying which of the
// three repeated broadcasts this is (spec.md 4.5 steps 3 and 6).
type ClaimStage struct {
	stage   PacketType
	MAC     net.HardwareAddr
	Counter uint8
}

func (c *ClaimStage) Type() PacketType { return c.stage }

func decodeClaimStage(data []byte, stage PacketType) (Packet, error) {
	if len(data) < 0x2c {
		return nil, &UnrecognizedError{Port: PortAnnouncement, Reason: "claim stage packet too short"}
	}
	return &ClaimStage{
		stage:   stage,
		MAC:     net.HardwareAddr(append([]byte(nil), data[0x26:0x26+6]...)),
		Counter: data[0x2b],
	}, nil
}

// ClaimStage2 additionally carries the candidate IP, the candidate device
// number, and the auto-assign flag (spec.md 4.5 step 4).
type ClaimStage2 struct {
	IP           net.IP
	MAC          net.HardwareAddr
	DeviceNumber uint8
	AutoAssign   bool
	Counter      uint8
}

func (ClaimStage2) Type() PacketType { return TypeDeviceNumberClaim2 }

func decodeClaimStage2(data []byte) (Packet, error) {
	if len(data) < 0x32 {
		return nil, &UnrecognizedError{Port: PortAnnouncement, Reason: "claim stage 2 packet too short"}
	}
	return &ClaimStage2{
		IP:           net.IP(append([]byte(nil), data[0x24:0x24+4]...)),
		MAC:          net.HardwareAddr(append([]byte(nil), data[0x28:0x28+6]...)),
		DeviceNumber: data[0x2e],
		AutoAssign:   data[0x2f] != 0,
		Counter:      data[0x31],
	}, nil
}

// WillAssign is sent by a mixer in response to our stage-1 claim to
// indicate it intends to authoritatively assign our device number
// (spec.md 4.5 step 3/5).
type WillAssign struct {
	MAC net.HardwareAddr
}

func (WillAssign) Type() PacketType { return TypeDeviceNumberWillAssign }

func decodeWillAssign(data []byte) (Packet, error) {
	if len(data) < 0x26+6 {
		return nil, &UnrecognizedError{Port: PortAnnouncement, Reason: "will-assign packet too short"}
	}
	return &WillAssign{MAC: net.HardwareAddr(append([]byte(nil), data[0x26:0x26+6]...))}, nil
}

// Assign is the mixer's authoritative device-number grant (type 0x03,
// spec.md 4.5 step 5).
type Assign struct {
	DeviceNumber uint8
}

func (Assign) Type() PacketType { return TypeDeviceNumberAssign }

func decodeAssign(data []byte) (Packet, error) {
	if len(data) < 0x25 {
		return nil, &UnrecognizedError{Port: PortAnnouncement, Reason: "assign packet too short"}
	}
	return &Assign{DeviceNumber: data[0x24]}, nil
}

// AssignmentFinished confirms the mixer-directed assignment is complete
// (type 0x05, spec.md 4.5 step 5).
type AssignmentFinished struct {
	DeviceNumber uint8
}

func (AssignmentFinished) Type() PacketType { return TypeDeviceNumberAssignmentFinished }

func decodeAssignFinished(data []byte) (Packet, error) {
	if len(data) < 0x25 {
		return nil, &UnrecognizedError{Port: PortAnnouncement, Reason: "assignment-finished packet too short"}
	}
	return &AssignmentFinished{DeviceNumber: data[0x24]}, nil
}

// InUse is DEVICE_NUMBER_IN_USE (type 0x08): either a defender telling us
// our candidate/claimed number collides with theirs, or us telling a rogue
// claimant the same (spec.md 4.5 "Defense").
type InUse struct {
	DeviceNumber uint8
	MAC          net.HardwareAddr
}

func (InUse) Type() PacketType { return TypeDeviceNumberInUse }

func decodeInUse(data []byte) (Packet, error) {
	if len(data) < 0x2c {
		return nil, &UnrecognizedError{Port: PortAnnouncement, Reason: "in-use packet too short"}
	}
	return &InUse{
		DeviceNumber: data[0x24],
		MAC:          net.HardwareAddr(append([]byte(nil), data[0x26:0x26+6]...)),
	}, nil
}
