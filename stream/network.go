package stream

import (
	"fmt"
	"net"

	"github.com/babymotte/aes67-vsc-2/sdp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// openRxConn opens the UDP socket a receiver listens on and, for multicast
// sessions, joins the group on the interface owning ifaceIP.
func openRxConn(session *sdp.Session, ifaceIP net.IP) (*net.UDPConn, error) {
	if !session.Multicast() {
		laddr := &net.UDPAddr{IP: ifaceIP, Port: session.Port}
		conn, err := net.ListenUDP("udp4", laddr)
		if err != nil {
			return nil, fmt.Errorf("failed to open unicast socket: %w", err)
		}
		return conn, nil
	}

	group := session.DestIP.To4()
	if group == nil {
		return nil, fmt.Errorf("only IPv4 multicast is supported, got %s", session.DestIP)
	}

	// Binding to the group address filters datagrams addressed to other
	// groups sharing the port.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: group, Port: session.Port})
	if err != nil {
		return nil, fmt.Errorf("failed to open multicast socket: %w", err)
	}

	iface, err := interfaceForIP(ifaceIP)
	if err != nil {
		conn.Close()
		return nil, err
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to join multicast group %s: %w", group, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "openRxConn",
		"group":    group.String(),
		"port":     session.Port,
		"iface":    ifaceName(iface),
	}).Info("Joined multicast group")

	return conn, nil
}

// openTxConn opens a connected UDP socket towards the destination and
// applies multicast TTL and egress interface settings where applicable.
func openTxConn(desc *TxDescriptor) (*net.UDPConn, error) {
	var laddr *net.UDPAddr
	if desc.InterfaceIP != nil {
		laddr = &net.UDPAddr{IP: desc.InterfaceIP}
	}

	conn, err := net.DialUDP("udp4", laddr, desc.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to open sender socket: %w", err)
	}

	if desc.Destination.IP.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		if err := p.SetMulticastTTL(desc.ttl()); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set multicast TTL: %w", err)
		}
		if desc.InterfaceIP != nil {
			iface, err := interfaceForIP(desc.InterfaceIP)
			if err != nil {
				conn.Close()
				return nil, err
			}
			if iface != nil {
				if err := p.SetMulticastInterface(iface); err != nil {
					conn.Close()
					return nil, fmt.Errorf("failed to set multicast interface: %w", err)
				}
			}
		}
	}

	return conn, nil
}

// interfaceForIP finds the network interface that owns the given address.
// A nil ifaceIP returns a nil interface, which lets the kernel pick one.
func interfaceForIP(ifaceIP net.IP) (*net.Interface, error) {
	if ifaceIP == nil {
		return nil, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate network interfaces: %w", err)
	}

	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if ok && ipNet.IP.Equal(ifaceIP) {
				return &ifaces[i], nil
			}
		}
	}

	return nil, fmt.Errorf("no network interface owns address %s", ifaceIP)
}

func ifaceName(iface *net.Interface) string {
	if iface == nil {
		return "default"
	}
	return iface.Name
}
