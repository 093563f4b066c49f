package rootfs

import (
	"fmt"
	"path/filepath"

	"github.com/fry-foundation/fry-iot-builder/internal/config"
)

// WriteNetworkConfigs generates the systemd-networkd definitions for the
// profile's interfaces, plus hostapd and dnsmasq drop-ins when AP or DHCP
// server roles are enabled.
func WriteNetworkConfigs(cfg *config.BuildConfig, tree string) error {
	networkDir := filepath.Join(tree, "etc/systemd/network")
	network := cfg.Network

	eth := network.Ethernet
	ethInterface := orDefault(eth.Interface, "eth0")
	ethConfig := "[Match]\nName=" + ethInterface + "\n\n[Network]\n"
	if boolValue(eth.DHCP, true) {
		ethConfig += "DHCP=yes\n"
	} else {
		ethConfig += fmt.Sprintf("Address=%s\nGateway=%s\nDNS=%s\n",
			orDefault(eth.Address, "192.168.1.1/24"),
			orDefault(eth.Gateway, "192.168.1.254"),
			orDefault(eth.DNS, "8.8.8.8"))
	}
	if err := writeFile(filepath.Join(networkDir, "10-ethernet.network"), ethConfig, 0o644); err != nil {
		return err
	}

	if network.Wifi.Enabled {
		wifiConfig := fmt.Sprintf("[Match]\nName=%s\n\n[Network]\nDHCP=yes\n",
			orDefault(network.Wifi.Interface, "wlan0"))
		if err := writeFile(filepath.Join(networkDir, "20-wireless.network"), wifiConfig, 0o644); err != nil {
			return err
		}
	}

	if network.Bridge.Enabled {
		if err := writeBridgeConfigs(network.Bridge, networkDir); err != nil {
			return err
		}
	}

	for _, vlan := range network.VLANs {
		if err := writeVLANConfigs(vlan, networkDir); err != nil {
			return err
		}
	}

	if cfg.Hostapd.Enabled {
		if err := writeHostapdConfig(cfg.Hostapd, tree); err != nil {
			return err
		}
	}
	if cfg.Dnsmasq.Enabled {
		if err := writeDnsmasqConfig(cfg.Dnsmasq, tree); err != nil {
			return err
		}
	}

	// Loopback stays under ifupdown management as a safety net for images
	// that drop networkd.
	loopback := `# Fry IoT default network configuration
# Managed by NetworkManager

auto lo
iface lo inet loopback
`
	return writeFile(filepath.Join(tree, "etc/network/interfaces.d/setup"), loopback, 0o644)
}

func writeBridgeConfigs(bridge config.BridgeSection, networkDir string) error {
	name := orDefault(bridge.Name, "br0")

	netdev := fmt.Sprintf("[NetDev]\nName=%s\nKind=bridge\n", name)
	if err := writeFile(filepath.Join(networkDir, "05-bridge.netdev"), netdev, 0o644); err != nil {
		return err
	}

	networkConfig := "[Match]\nName=" + name + "\n\n[Network]\n"
	if boolValue(bridge.DHCP, true) {
		networkConfig += "DHCP=yes\n"
	} else {
		networkConfig += fmt.Sprintf("Address=%s\nGateway=%s\n",
			orDefault(bridge.Address, "192.168.1.1/24"),
			orDefault(bridge.Gateway, "192.168.1.254"))
	}
	if err := writeFile(filepath.Join(networkDir, "15-bridge.network"), networkConfig, 0o644); err != nil {
		return err
	}

	members := bridge.Members
	if len(members) == 0 {
		members = []string{"eth0"}
	}
	for _, member := range members {
		memberConfig := fmt.Sprintf("[Match]\nName=%s\n\n[Network]\nBridge=%s\n", member, name)
		path := filepath.Join(networkDir, fmt.Sprintf("10-%s.network", member))
		if err := writeFile(path, memberConfig, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func writeVLANConfigs(vlan config.VLANSection, networkDir string) error {
	name := vlan.Name
	if name == "" {
		name = fmt.Sprintf("vlan%d", vlan.ID)
	}

	netdev := fmt.Sprintf("[NetDev]\nName=%s\nKind=vlan\n\n[VLAN]\nId=%d\n", name, vlan.ID)
	if err := writeFile(filepath.Join(networkDir, fmt.Sprintf("05-%s.netdev", name)), netdev, 0o644); err != nil {
		return err
	}

	networkConfig := "[Match]\nName=" + name + "\n\n[Network]\n"
	if vlan.DHCP {
		networkConfig += "DHCP=yes\n"
	} else {
		networkConfig += fmt.Sprintf("Address=%s\n",
			orDefault(vlan.Address, fmt.Sprintf("192.168.%d.1/24", vlan.ID)))
	}
	return writeFile(filepath.Join(networkDir, fmt.Sprintf("20-%s.network", name)), networkConfig, 0o644)
}

func writeHostapdConfig(hostapd config.HostapdSection, tree string) error {
	channel := hostapd.Channel
	if channel == 0 {
		channel = 6
	}
	content := fmt.Sprintf(`interface=%s
driver=nl80211
ssid=%s
hw_mode=%s
channel=%d
wmm_enabled=0
macaddr_acl=0
auth_algs=1
ignore_broadcast_ssid=0
wpa=2
wpa_passphrase=%s
wpa_key_mgmt=WPA-PSK
wpa_pairwise=TKIP
rsn_pairwise=CCMP
`,
		orDefault(hostapd.Interface, "wlan0"),
		orDefault(hostapd.SSID, "FryIoT"),
		orDefault(hostapd.HWMode, "g"),
		channel,
		orDefault(hostapd.Password, "frynetwork"))
	return writeFile(filepath.Join(tree, "etc/hostapd/hostapd.conf"), content, 0o644)
}

func writeDnsmasqConfig(dnsmasq config.DnsmasqSection, tree string) error {
	content := fmt.Sprintf(`interface=%s
dhcp-range=%s
dhcp-option=option:router,%s
dhcp-option=option:dns-server,%s
`,
		orDefault(dnsmasq.Interface, "eth0"),
		orDefault(dnsmasq.DHCPRange, "192.168.1.50,192.168.1.150,12h"),
		orDefault(dnsmasq.Gateway, "192.168.1.1"),
		orDefault(dnsmasq.DNS, "8.8.8.8,8.8.4.4"))
	return writeFile(filepath.Join(tree, "etc/dnsmasq.d/fry-iot.conf"), content, 0o644)
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func boolValue(value *bool, fallback bool) bool {
	if value != nil {
		return *value
	}
	return fallback
}
