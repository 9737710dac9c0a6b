package p2p

import (
	"fmt"
	"net"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/shardline-network/node/log"
)

// natLeaseDuration is the mapping lifetime, in seconds, requested from
// the gateway. Map requests it once; NATManager does not renew the
// mapping when the lease runs out.
const natLeaseDuration = 3600

// NATManager maps this node's listen port on the local gateway via
// NAT-PMP, falling back to UPnP IGDv1, the same two-protocol fallback
// order as the pack's nat_traversal.go.
type NATManager struct {
	externalIP net.IP
	pmp        *natpmp.Client
	upnp       *internetgateway1.WANIPConnection1
	mappedPort int
	log        log.Logger
}

// DiscoverNAT probes for a gateway supporting either protocol. When no
// gateway is found it returns a nil manager and an error; callers skip
// NAT traversal in that case — not every deployment is behind a NAT, and
// this is not fatal to starting the node.
func DiscoverNAT() (*NATManager, error) {
	m := &NATManager{log: log.New("component", "nat")}

	if gw, err := gateway.DiscoverGateway(); err == nil {
		client := natpmp.NewClient(gw)
		if res, err := client.GetExternalAddress(); err == nil {
			m.pmp = client
			m.externalIP = net.IPv4(
				res.ExternalIPAddress[0], res.ExternalIPAddress[1],
				res.ExternalIPAddress[2], res.ExternalIPAddress[3],
			)
			return m, nil
		}
	}

	if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
		if ipStr, err := clients[0].GetExternalIPAddress(); err == nil {
			m.upnp = clients[0]
			m.externalIP = net.ParseIP(ipStr)
			return m, nil
		}
	}

	return nil, fmt.Errorf("nat: no gateway discovered")
}

// ExternalIP is the address other nodes should be told to dial.
func (m *NATManager) ExternalIP() net.IP { return m.externalIP }

// Map requests a port forward for the node's TCP listen port.
func (m *NATManager) Map(port int) error {
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", port, port, natLeaseDuration); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	if m.upnp != nil {
		if err := m.upnp.AddPortMapping("", uint16(port), "TCP", uint16(port), m.externalIP.String(), true, "shardline-node", natLeaseDuration); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	return fmt.Errorf("nat: port mapping failed")
}

// Unmap tears down a previously established mapping; a no-op if Map was
// never called or already failed.
func (m *NATManager) Unmap() error {
	if m.mappedPort == 0 {
		return nil
	}
	port := m.mappedPort
	m.mappedPort = 0
	if m.pmp != nil {
		_, err := m.pmp.AddPortMapping("tcp", port, port, 0)
		return err
	}
	if m.upnp != nil {
		return m.upnp.DeletePortMapping("", uint16(port), "TCP")
	}
	return nil
}
