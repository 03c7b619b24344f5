package lan

import (
	"errors"
	"fmt"
	"net"

	"github.com/huin/goupnp/dcps/internetgateway2"
	"go.uber.org/zap"
)

const upnpDescription = "p2p-color signaling"

var errNoGateway = errors.New("no UPnP gateway found")

// portMapping is a TCP port forwarded on an internet gateway.
type portMapping struct {
	client *internetgateway2.WANIPConnection1
	port   uint16
}

// mapPort forwards port on the first gateway that accepts it.
func mapPort(port int) (*portMapping, error) {
	clients, _, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil {
		return nil, fmt.Errorf("discover gateways: %w", err)
	}
	if len(clients) == 0 {
		return nil, errNoGateway
	}

	ip := localIPv4()
	if ip == nil {
		return nil, errors.New("no local IPv4 address")
	}
	p := uint16(port)
	var lastErr error
	for _, c := range clients {
		if err := c.AddPortMapping("", p, "TCP", p, ip.String(), true, upnpDescription, 0); err != nil {
			lastErr = err
			continue
		}
		return &portMapping{client: c, port: p}, nil
	}
	return nil, fmt.Errorf("add port mapping: %w", lastErr)
}

// Close removes the mapping.
func (m *portMapping) Close() error {
	return m.client.DeletePortMapping("", m.port, "TCP")
}

func (t *Transport) mapSignalingPort() {
	defer t.wg.Done()

	m, err := mapPort(t.port())
	if err != nil {
		t.log.Warn("UPnP port mapping failed", zap.Error(err))
		return
	}

	t.mu.Lock()
	if t.closed || t.mapping != nil {
		t.mu.Unlock()
		m.Close()
		return
	}
	t.mapping = m
	t.mu.Unlock()
	t.log.Info("UPnP port mapped", zap.Uint16("port", m.port))
}

// localIPv4 returns the first non-loopback IPv4 address of an interface
// that is up.
func localIPv4() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4
			}
		}
	}
	return nil
}
