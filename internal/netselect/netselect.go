// Package netselect implements NetworkSelector (spec.md 4.3): given the
// address a peer announcement arrived from, find the local interface whose
// subnet contains it, so the virtual device knows which address to bind,
// broadcast from, and ignore. Primary enumeration goes through
// github.com/vishvananda/netlink (grounded on doismellburning-samoyed's use
// of netlink for its own interface/device discovery); on platforms or
// sandboxes where netlink is unavailable (non-Linux, missing NET_ADMIN) we
// fall back to the stdlib net.Interfaces() enumeration.
package netselect

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
)

// InterfaceAddress is one candidate local address: the address itself, its
// prefix length, and the directed broadcast address to send keep-alives
// and claims to.
type InterfaceAddress struct {
	Name      string
	IP        net.IP
	PrefixLen int
	Broadcast net.IP
}

// ErrNoMatchingInterface is returned when no local interface's subnet
// contains the peer address (spec.md 4.3).
var ErrNoMatchingInterface = errors.New("netselect: no matching interface")

// Select enumerates local interfaces and returns the one whose /prefix
// network equals the peer address's /prefix network. If more than one
// interface matches, every match is logged at warn level (duplicate
// packets would corrupt state, spec.md 4.3/9.4) and the first match is
// still returned — the source does not recover from this condition, it is
// a configuration problem surfaced to the operator.
func Select(peer net.IP, logger *slog.Logger) (InterfaceAddress, error) {
	addrs, err := enumerate()
	if err != nil {
		return InterfaceAddress{}, fmt.Errorf("enumerating interfaces: %w", err)
	}

	var matches []InterfaceAddress
	for _, a := range addrs {
		network := &net.IPNet{IP: a.IP.Mask(net.CIDRMask(a.PrefixLen, 32)), Mask: net.CIDRMask(a.PrefixLen, 32)}
		if network.Contains(peer) {
			matches = append(matches, a)
		}
	}

	if len(matches) == 0 {
		return InterfaceAddress{}, ErrNoMatchingInterface
	}
	if len(matches) > 1 {
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		logger.Warn("multiple interfaces match the peer's subnet; duplicate packets will corrupt state",
			"peer", peer.String(), "interfaces", names)
	}
	return matches[0], nil
}

// enumerate lists every interface address with netlink, falling back to
// net.Interfaces() if netlink cannot be used in this environment.
func enumerate() ([]InterfaceAddress, error) {
	addrs, err := enumerateNetlink()
	if err == nil && len(addrs) > 0 {
		return addrs, nil
	}
	return enumerateStdlib()
}

func enumerateNetlink() ([]InterfaceAddress, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	var out []InterfaceAddress
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a.IP.To4() == nil || a.IP.IsLoopback() {
				continue
			}
			ones, _ := a.IPNet.Mask.Size()
			bcast := broadcastAddress(a.IPNet)
			out = append(out, InterfaceAddress{
				Name:      attrs.Name,
				IP:        a.IP,
				PrefixLen: ones,
				Broadcast: bcast,
			})
		}
	}
	return out, nil
}

func enumerateStdlib() ([]InterfaceAddress, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("net.Interfaces: %w", err)
	}
	var out []InterfaceAddress
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil || ipNet.IP.IsLoopback() {
				continue
			}
			ones, _ := ipNet.Mask.Size()
			out = append(out, InterfaceAddress{
				Name:      iface.Name,
				IP:        ipNet.IP,
				PrefixLen: ones,
				Broadcast: broadcastAddress(ipNet),
			})
		}
	}
	return out, nil
}

func broadcastAddress(ipNet *net.IPNet) net.IP {
	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := ipNet.Mask
	bcast := make(net.IP, 4)
	for i := range ip4 {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}
