package contact

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultNeighborTable is the Linux IPv4 neighbor (ARP) table.
const DefaultNeighborTable = "/proc/net/arp"

// Expander turns a contact into the ordered list of socket addresses to try.
// useNeighborTable allows resolving MAC addresses through the local
// neighbor table in addition to IPv6 link-local derivation.
type Expander interface {
	Expand(c *Contact, useNeighborTable bool) []string
}

// AddressExpander is the default Expander.
//
// Order: the last working address, then every configured address in order.
// Addresses with a port are kept, bare hosts get Port appended and MAC
// addresses become EUI-64 link-local addresses on every usable interface.
type AddressExpander struct {
	Port int

	// Interfaces lists local interfaces for link-local scoping.
	Interfaces func() ([]net.Interface, error)

	// NeighborTable maps lower-case MAC strings to IPv4 addresses.
	NeighborTable func() (map[string][]string, error)
}

// NewExpander creates an AddressExpander for the given signaling port.
func NewExpander(port int) *AddressExpander {
	return &AddressExpander{
		Port:       port,
		Interfaces: net.Interfaces,
		NeighborTable: func() (map[string][]string, error) {
			return ReadNeighborTable(DefaultNeighborTable)
		},
	}
}

// Expand implements Expander.
func (e *AddressExpander) Expand(c *Contact, useNeighborTable bool) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(addr string) {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}

	add(c.LastWorkingAddress())

	port := strconv.Itoa(e.Port)
	for _, raw := range c.Addresses() {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			continue
		}

		if net.ParseIP(strings.Trim(addr, "[]")) == nil {
			if mac, err := net.ParseMAC(addr); err == nil && len(mac) == 6 {
				for _, a := range e.expandMAC(mac, port, useNeighborTable) {
					add(a)
				}
				continue
			}
		}

		if _, _, err := net.SplitHostPort(addr); err == nil {
			add(addr)
			continue
		}
		add(net.JoinHostPort(strings.Trim(addr, "[]"), port))
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Expand",
		"contact":    c.String(),
		"configured": len(c.Addresses()),
		"candidates": len(out),
	}).Debug("Expanded contact addresses")

	return out
}

func (e *AddressExpander) expandMAC(mac net.HardwareAddr, port string, useNeighborTable bool) []string {
	var out []string

	if useNeighborTable && e.NeighborTable != nil {
		table, err := e.NeighborTable()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "expandMAC",
				"error":    err.Error(),
			}).Debug("Neighbor table unavailable")
		}
		for _, ip := range table[strings.ToLower(mac.String())] {
			out = append(out, net.JoinHostPort(ip, port))
		}
	}

	if e.Interfaces == nil {
		return out
	}
	ifaces, err := e.Interfaces()
	if err != nil {
		return out
	}

	linkLocal := LinkLocalFromMAC(mac).String()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		out = append(out, net.JoinHostPort(linkLocal+"%"+iface.Name, port))
	}
	return out
}

// LinkLocalFromMAC derives the EUI-64 based fe80::/64 address of a MAC.
func LinkLocalFromMAC(mac net.HardwareAddr) net.IP {
	ip := make(net.IP, net.IPv6len)
	ip[0], ip[1] = 0xfe, 0x80
	ip[8] = mac[0] ^ 0x02
	ip[9] = mac[1]
	ip[10] = mac[2]
	ip[11] = 0xff
	ip[12] = 0xfe
	ip[13] = mac[3]
	ip[14] = mac[4]
	ip[15] = mac[5]
	return ip
}

// ReadNeighborTable parses a /proc/net/arp style table into MAC -> IPv4 list.
func ReadNeighborTable(path string) (map[string][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open neighbor table: %w", err)
	}
	defer f.Close()

	table := make(map[string][]string)
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		// IP address  HW type  Flags  HW address  Mask  Device
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		mac := strings.ToLower(fields[3])
		if mac == "00:00:00:00:00:00" {
			continue
		}
		table[mac] = append(table[mac], fields[0])
	}
	return table, scanner.Err()
}
