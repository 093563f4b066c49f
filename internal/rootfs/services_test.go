package rootfs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFryServicesConfig(t *testing.T) {
	tree := t.TempDir()
	cfg := testConfig()

	if err := WriteFryServices(cfg, tree); err != nil {
		t.Fatalf("write fry services: %v", err)
	}

	var serviceConfig fryServiceConfig
	data := readTreeFile(t, tree, "etc/fry/config.json")
	if err := json.Unmarshal([]byte(data), &serviceConfig); err != nil {
		t.Fatalf("parse config.json: %v", err)
	}

	if serviceConfig.APIEndpoint != "https://api.fry.network" {
		t.Errorf("api endpoint = %q", serviceConfig.APIEndpoint)
	}
	if !serviceConfig.BandwidthMining || !serviceConfig.Bandwidth.Enabled {
		t.Error("bandwidth mining settings not propagated")
	}
	if serviceConfig.Telemetry.Interval != 60 {
		t.Errorf("telemetry interval = %d", serviceConfig.Telemetry.Interval)
	}
	if len(serviceConfig.Network.STUNServers) != 2 {
		t.Errorf("stun servers = %v", serviceConfig.Network.STUNServers)
	}
}

func TestWriteFryServicesDisabledMining(t *testing.T) {
	tree := t.TempDir()
	cfg := testConfig()
	cfg.Fry.BandwidthMining = false

	if err := WriteFryServices(cfg, tree); err != nil {
		t.Fatalf("write fry services: %v", err)
	}

	var serviceConfig fryServiceConfig
	if err := json.Unmarshal([]byte(readTreeFile(t, tree, "etc/fry/config.json")), &serviceConfig); err != nil {
		t.Fatalf("parse config.json: %v", err)
	}
	if serviceConfig.BandwidthMining || serviceConfig.Bandwidth.Enabled {
		t.Error("bandwidth mining should be disabled")
	}
}

func TestWriteFryServicesUnits(t *testing.T) {
	tree := t.TempDir()

	if err := WriteFryServices(testConfig(), tree); err != nil {
		t.Fatalf("write fry services: %v", err)
	}

	systemdDir := filepath.Join(tree, "etc/systemd/system")
	for _, name := range []string{
		"fry-node.service",
		"bandwidth-miner.service",
		"fry-dashboard.service",
		"fry-update.timer",
		"fry-update.service",
		"fry-first-boot.service",
	} {
		if _, err := os.Stat(filepath.Join(systemdDir, name)); err != nil {
			t.Errorf("unit %s not written: %v", name, err)
		}
	}

	node := readTreeFile(t, tree, "etc/systemd/system/fry-node.service")
	for _, want := range []string{
		"Description=Fry Network Node",
		"ExecStart=/usr/bin/fry-node --config /etc/fry/config.json",
		"NoNewPrivileges=yes",
		"ProtectSystem=strict",
		"PrivateTmp=yes",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(node, want) {
			t.Errorf("fry-node.service missing %q:\n%s", want, node)
		}
	}

	miner := readTreeFile(t, tree, "etc/systemd/system/bandwidth-miner.service")
	for _, want := range []string{"MemoryMax=512M", "CPUQuota=50%", "Requires=fry-node.service"} {
		if !strings.Contains(miner, want) {
			t.Errorf("bandwidth-miner.service missing %q:\n%s", want, miner)
		}
	}

	timer := readTreeFile(t, tree, "etc/systemd/system/fry-update.timer")
	if !strings.Contains(timer, "OnUnitActiveSec=6h") || !strings.Contains(timer, "WantedBy=timers.target") {
		t.Errorf("fry-update.timer = %s", timer)
	}

	firstBoot := readTreeFile(t, tree, "etc/systemd/system/fry-first-boot.service")
	if !strings.Contains(firstBoot, "ConditionPathExists=!/var/lib/fry-iot/first-boot-done") {
		t.Errorf("first-boot condition missing:\n%s", firstBoot)
	}
}

func TestWriteFryServicesScripts(t *testing.T) {
	tree := t.TempDir()

	if err := WriteFryServices(testConfig(), tree); err != nil {
		t.Fatalf("write fry services: %v", err)
	}

	for _, script := range []string{"usr/local/bin/fry-first-boot.sh", "usr/local/bin/fry-status"} {
		info, err := os.Stat(filepath.Join(tree, script))
		if err != nil {
			t.Fatalf("script %s not written: %v", script, err)
		}
		if info.Mode().Perm() != 0o755 {
			t.Errorf("script %s mode = %v, want 0755", script, info.Mode().Perm())
		}
	}

	firstBoot := readTreeFile(t, tree, "usr/local/bin/fry-first-boot.sh")
	if !strings.Contains(firstBoot, "systemctl enable fry-node.service") {
		t.Errorf("first-boot script missing service enablement:\n%s", firstBoot)
	}

	if info, err := os.Stat(filepath.Join(tree, "var/lib/fry-iot")); err != nil || !info.IsDir() {
		t.Error("state directory var/lib/fry-iot not created")
	}
}
