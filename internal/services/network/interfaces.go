// Package network enumerates interfaces and picks the address, broadcast and
// MAC the Art-Net node advertises.
package network

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoInterface is returned when no usable IPv4 interface exists.
var ErrNoInterface = errors.New("no usable IPv4 interface")

// Interface is one IPv4 address on an up, non-loopback interface.
type Interface struct {
	Name          string
	IP            net.IP
	Mask          net.IPMask
	Broadcast     net.IP
	MAC           net.HardwareAddr
	InterfaceType string // "ethernet", "wifi", "other"
}

// Selection is what the node is configured with.
type Selection struct {
	Name      string
	IP        net.IP
	Broadcast net.IP
	MAC       [6]byte
}

// getInterfaceType guesses the interface type from its name.
func getInterfaceType(ifaceName string) string {
	name := strings.ToLower(ifaceName)

	// en0 is typically WiFi on macOS
	if name == "en0" {
		return "wifi"
	}
	if strings.HasPrefix(name, "wlan") ||
		strings.HasPrefix(name, "wl") ||
		strings.Contains(name, "wifi") {
		return "wifi"
	}
	if strings.HasPrefix(name, "eth") || strings.HasPrefix(name, "en") {
		return "ethernet"
	}
	return "other"
}

// calculateBroadcast computes the broadcast address from IP and netmask.
func calculateBroadcast(ip net.IP, mask net.IPMask) net.IP {
	if ip == nil || mask == nil {
		return nil
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}
	if len(mask) == 16 {
		mask = mask[12:16]
	}
	if len(mask) != 4 {
		return nil
	}

	broadcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		broadcast[i] = ip4[i] | ^mask[i]
	}
	return broadcast
}

// Interfaces returns the IPv4 addresses of all up, non-loopback interfaces,
// ethernet first, then wifi, then the rest.
func Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var ethernet, wifi, other []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			broadcast := calculateBroadcast(ip4, ipNet.Mask)
			// Point-to-point links have no broadcast.
			if broadcast == nil || broadcast.Equal(ip4) {
				continue
			}
			it := Interface{
				Name:          iface.Name,
				IP:            ip4,
				Mask:          ipNet.Mask,
				Broadcast:     broadcast,
				MAC:           iface.HardwareAddr,
				InterfaceType: getInterfaceType(iface.Name),
			}
			switch it.InterfaceType {
			case "ethernet":
				ethernet = append(ethernet, it)
			case "wifi":
				wifi = append(wifi, it)
			default:
				other = append(other, it)
			}
		}
	}

	out := make([]Interface, 0, len(ethernet)+len(wifi)+len(other))
	out = append(out, ethernet...)
	out = append(out, wifi...)
	return append(out, other...), nil
}

// Select picks the node address from ifaces. A non-empty ip must belong to
// one of them; otherwise the first interface wins. A non-empty broadcast
// overrides the derived one.
func Select(ifaces []Interface, ip, broadcast string) (Selection, error) {
	var chosen *Interface
	if ip == "" {
		if len(ifaces) == 0 {
			return Selection{}, ErrNoInterface
		}
		chosen = &ifaces[0]
	} else {
		want := net.ParseIP(ip).To4()
		if want == nil {
			return Selection{}, fmt.Errorf("invalid IPv4 address %q", ip)
		}
		for i := range ifaces {
			if ifaces[i].IP.Equal(want) {
				chosen = &ifaces[i]
				break
			}
		}
		if chosen == nil {
			return Selection{}, fmt.Errorf("%w: %s is not bound to any interface", ErrNoInterface, ip)
		}
	}

	sel := Selection{Name: chosen.Name, IP: chosen.IP, Broadcast: chosen.Broadcast}
	copy(sel.MAC[:], chosen.MAC)
	if broadcast != "" {
		b := net.ParseIP(broadcast).To4()
		if b == nil {
			return Selection{}, fmt.Errorf("invalid broadcast address %q", broadcast)
		}
		sel.Broadcast = b
	}
	return sel, nil
}

// FindArtNetIP enumerates the host interfaces and selects one.
func FindArtNetIP(ip, broadcast string) (Selection, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return Selection{}, err
	}
	return Select(ifaces, ip, broadcast)
}
