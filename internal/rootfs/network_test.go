package rootfs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fry-foundation/fry-iot-builder/internal/config"
)

func boolPtr(v bool) *bool { return &v }

func TestWriteNetworkConfigsDefaultsToDHCP(t *testing.T) {
	tree := t.TempDir()
	cfg := testConfig()

	if err := WriteNetworkConfigs(cfg, tree); err != nil {
		t.Fatalf("write network configs: %v", err)
	}

	eth := readTreeFile(t, tree, "etc/systemd/network/10-ethernet.network")
	if !strings.Contains(eth, "Name=eth0") || !strings.Contains(eth, "DHCP=yes") {
		t.Errorf("ethernet config = %s", eth)
	}

	if _, err := os.Stat(filepath.Join(tree, "etc/systemd/network/20-wireless.network")); !errors.Is(err, os.ErrNotExist) {
		t.Error("wireless config written although wifi is disabled")
	}
	if _, err := os.Stat(filepath.Join(tree, "etc/hostapd/hostapd.conf")); !errors.Is(err, os.ErrNotExist) {
		t.Error("hostapd config written although AP mode is disabled")
	}

	loopback := readTreeFile(t, tree, "etc/network/interfaces.d/setup")
	if !strings.Contains(loopback, "iface lo inet loopback") {
		t.Errorf("loopback config = %s", loopback)
	}
}

func TestWriteNetworkConfigsStaticAddressing(t *testing.T) {
	tree := t.TempDir()
	cfg := testConfig()
	cfg.Network.Ethernet = config.EthernetSection{
		Interface: "enp1s0",
		DHCP:      boolPtr(false),
		Address:   "10.0.0.2/24",
		Gateway:   "10.0.0.1",
		DNS:       "10.0.0.1",
	}

	if err := WriteNetworkConfigs(cfg, tree); err != nil {
		t.Fatalf("write network configs: %v", err)
	}

	eth := readTreeFile(t, tree, "etc/systemd/network/10-ethernet.network")
	for _, want := range []string{"Name=enp1s0", "Address=10.0.0.2/24", "Gateway=10.0.0.1", "DNS=10.0.0.1"} {
		if !strings.Contains(eth, want) {
			t.Errorf("ethernet config missing %q:\n%s", want, eth)
		}
	}
	if strings.Contains(eth, "DHCP=yes") {
		t.Errorf("static config still enables DHCP:\n%s", eth)
	}
}

func TestWriteNetworkConfigsBridgeAndVLANs(t *testing.T) {
	tree := t.TempDir()
	cfg := testConfig()
	cfg.Network.Bridge = config.BridgeSection{
		Enabled: true,
		Name:    "br-lan",
		Members: []string{"eth1", "eth2"},
	}
	cfg.Network.VLANs = []config.VLANSection{
		{ID: 10, Name: "iot", Parent: "br-lan"},
		{ID: 20, DHCP: true},
	}

	if err := WriteNetworkConfigs(cfg, tree); err != nil {
		t.Fatalf("write network configs: %v", err)
	}

	netdev := readTreeFile(t, tree, "etc/systemd/network/05-bridge.netdev")
	if !strings.Contains(netdev, "Name=br-lan") || !strings.Contains(netdev, "Kind=bridge") {
		t.Errorf("bridge netdev = %s", netdev)
	}
	for _, member := range []string{"eth1", "eth2"} {
		memberCfg := readTreeFile(t, tree, "etc/systemd/network/10-"+member+".network")
		if !strings.Contains(memberCfg, "Bridge=br-lan") {
			t.Errorf("member %s not enslaved: %s", member, memberCfg)
		}
	}

	vlan := readTreeFile(t, tree, "etc/systemd/network/05-iot.netdev")
	if !strings.Contains(vlan, "Kind=vlan") || !strings.Contains(vlan, "Id=10") {
		t.Errorf("vlan netdev = %s", vlan)
	}
	// Unnamed VLANs fall back to vlan<id> and default subnet by id.
	vlan20 := readTreeFile(t, tree, "etc/systemd/network/20-vlan20.network")
	if !strings.Contains(vlan20, "DHCP=yes") {
		t.Errorf("vlan20 network = %s", vlan20)
	}
	iotNet := readTreeFile(t, tree, "etc/systemd/network/20-iot.network")
	if !strings.Contains(iotNet, "Address=192.168.10.1/24") {
		t.Errorf("iot vlan network = %s", iotNet)
	}
}

func TestWriteNetworkConfigsAccessPoint(t *testing.T) {
	tree := t.TempDir()
	cfg := testConfig()
	cfg.Network.Wifi = config.WifiSection{Enabled: true, Interface: "wlp2s0"}
	cfg.Hostapd = config.HostapdSection{
		Enabled:  true,
		SSID:     "FryRouter",
		Password: "opensesame",
	}
	cfg.Dnsmasq = config.DnsmasqSection{
		Enabled:   true,
		Interface: "wlp2s0",
		DHCPRange: "192.168.4.10,192.168.4.100,24h",
	}

	if err := WriteNetworkConfigs(cfg, tree); err != nil {
		t.Fatalf("write network configs: %v", err)
	}

	wifi := readTreeFile(t, tree, "etc/systemd/network/20-wireless.network")
	if !strings.Contains(wifi, "Name=wlp2s0") {
		t.Errorf("wifi config = %s", wifi)
	}

	hostapd := readTreeFile(t, tree, "etc/hostapd/hostapd.conf")
	for _, want := range []string{"ssid=FryRouter", "wpa_passphrase=opensesame", "channel=6", "driver=nl80211"} {
		if !strings.Contains(hostapd, want) {
			t.Errorf("hostapd.conf missing %q:\n%s", want, hostapd)
		}
	}

	dnsmasq := readTreeFile(t, tree, "etc/dnsmasq.d/fry-iot.conf")
	for _, want := range []string{"interface=wlp2s0", "dhcp-range=192.168.4.10,192.168.4.100,24h"} {
		if !strings.Contains(dnsmasq, want) {
			t.Errorf("dnsmasq config missing %q:\n%s", want, dnsmasq)
		}
	}
}
