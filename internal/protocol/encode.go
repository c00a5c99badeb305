package protocol

import "net"

// Packet lengths for outbound packets VirtualDevice sends (spec.md 4.5).
// These mirror the minimum lengths the decoders above accept.
const (
	lenHello              = 0x2c
	lenClaimStage         = 0x2c
	lenClaimStage2        = 0x32
	lenAssignRelated      = 0x25
	lenInUse              = 0x2c
	lenAnnouncement       = 54
)

func newFrame(size int, tag byte) []byte {
	b := make([]byte, size)
	copy(b[:10], Magic[:])
	b[typeOffset] = tag
	return b
}

func putMAC(b []byte, off int, mac net.HardwareAddr) {
	copy(b[off:off+6], padMAC(mac))
}

func padMAC(mac net.HardwareAddr) []byte {
	out := make([]byte, 6)
	copy(out, mac)
	return out
}

func putIP4(b []byte, off int, ip net.IP) {
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	copy(b[off:off+4], v4)
}

// EncodeHello builds the type-0x0A hello broadcast sent before a candidate
// device number has been chosen (spec.md 4.5 step 1).
func EncodeHello(mac net.HardwareAddr) []byte {
	b := newFrame(lenHello, tagHello)
	putMAC(b, 0x26, mac)
	return b
}

// EncodeClaimStage1 builds a stage-1 claim broadcast (type 0x00, spec.md 4.5
// step 3). counter is 1..3, identifying which of the three broadcasts this is.
func EncodeClaimStage1(mac net.HardwareAddr, counter uint8) []byte {
	b := newFrame(lenClaimStage, tagDeviceNumberClaim1)
	putMAC(b, 0x26, mac)
	b[0x2b] = counter
	return b
}

// EncodeClaimStage3 builds a stage-3 claim broadcast (type 0x04, spec.md 4.5
// step 6).
func EncodeClaimStage3(mac net.HardwareAddr, counter uint8) []byte {
	b := newFrame(lenClaimStage, tagDeviceNumberClaim3)
	putMAC(b, 0x26, mac)
	b[0x2b] = counter
	return b
}

// EncodeClaimStage2 builds a stage-2 claim packet (type 0x02, spec.md 4.5
// step 4), also used unicast to the mixer as the AwaitMixer assignment
// request (spec.md 4.5 step 5, "sub-flag 0x01" is the autoAssign flag set).
func EncodeClaimStage2(ip net.IP, mac net.HardwareAddr, candidate uint8, autoAssign bool, counter uint8) []byte {
	b := newFrame(lenClaimStage2, tagDeviceNumberClaim2)
	putIP4(b, 0x24, ip)
	putMAC(b, 0x28, mac)
	b[0x2e] = candidate
	if autoAssign {
		b[0x2f] = 0x01
	}
	b[0x31] = counter
	return b
}

// EncodeInUse builds a DEVICE_NUMBER_IN_USE packet (type 0x08), sent to
// defend our claimed number against an announcement or a stage-2 claim that
// names it (spec.md 4.5 "Defense").
func EncodeInUse(deviceNumber uint8, mac net.HardwareAddr) []byte {
	b := newFrame(lenInUse, tagDeviceNumberInUse)
	b[0x24] = deviceNumber
	putMAC(b, 0x26, mac)
	return b
}

// EncodeAnnouncement builds the Active-state keep-alive broadcast (type
// 0x06, spec.md 4.5 step 7).
func EncodeAnnouncement(name string, deviceNumber uint8, mac net.HardwareAddr, ip net.IP) []byte {
	b := newFrame(lenAnnouncement, tagAnnouncement)
	copy(b[0x0c:0x0c+deviceNameLen], name)
	b[0x24] = deviceNumber
	putMAC(b, 0x26, mac)
	putIP4(b, 0x2c, ip)
	return b
}
