package probe

import "net"

// NetworkSource reports whether the device currently has a usable network.
// Host platforms with richer signals (mobile connectivity APIs, DBus) can
// plug in their own implementation.
type NetworkSource interface {
	Online() bool
}

// InterfaceSource considers the network up when any non-loopback interface
// is up and has an address assigned.
type InterfaceSource struct{}

func (InterfaceSource) Online() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if len(addrs) > 0 {
			return true
		}
	}
	return false
}
