package rootfs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/fry-foundation/fry-iot-builder/internal/config"
)

// fryServiceConfig is the node configuration document shipped at
// /etc/fry/config.json.
type fryServiceConfig struct {
	APIEndpoint     string          `json:"api_endpoint"`
	BandwidthMining bool            `json:"bandwidth_mining"`
	NodeType        string          `json:"node_type"`
	AutoRegister    bool            `json:"auto_register"`
	Telemetry       telemetryConfig `json:"telemetry"`
	Bandwidth       bandwidthConfig `json:"bandwidth"`
	Network         p2pConfig       `json:"network"`
}

type telemetryConfig struct {
	Enabled  bool `json:"enabled"`
	Interval int  `json:"interval"`
}

type bandwidthConfig struct {
	Enabled          bool `json:"enabled"`
	MaxSharePercent  int  `json:"max_share_percent"`
	MinBandwidthMbps int  `json:"min_bandwidth_mbps"`
}

type p2pConfig struct {
	UPnP        bool     `json:"upnp"`
	NATPMP      bool     `json:"nat_pmp"`
	STUNServers []string `json:"stun_servers"`
}

// WriteFryServices writes the node configuration, the systemd units for the
// node/miner/dashboard/update services, the first-boot machinery and the
// state directory. Units are written but never enabled here; activation
// happens on first boot inside the device.
func WriteFryServices(cfg *config.BuildConfig, tree string) error {
	serviceConfig := fryServiceConfig{
		APIEndpoint:     cfg.Fry.APIEndpoint,
		BandwidthMining: cfg.Fry.BandwidthMining,
		NodeType:        cfg.Fry.NodeType,
		AutoRegister:    true,
		Telemetry:       telemetryConfig{Enabled: true, Interval: 60},
		Bandwidth: bandwidthConfig{
			Enabled:          cfg.Fry.BandwidthMining,
			MaxSharePercent:  50,
			MinBandwidthMbps: 1,
		},
		Network: p2pConfig{
			UPnP:   true,
			NATPMP: true,
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun.fry.network:3478",
			},
		},
	}
	encoded, err := json.MarshalIndent(serviceConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fry config: %w", err)
	}
	if err := writeFile(filepath.Join(tree, "etc/fry/config.json"), string(encoded)+"\n", 0o644); err != nil {
		return err
	}

	systemdDir := filepath.Join(tree, "etc/systemd/system")
	units := map[string][]*unit.UnitOption{
		"fry-node.service":        fryNodeUnit(),
		"bandwidth-miner.service": bandwidthMinerUnit(),
		"fry-dashboard.service":   dashboardUnit(),
		"fry-update.timer":        updateTimerUnit(),
		"fry-update.service":      updateServiceUnit(),
		"fry-first-boot.service":  firstBootUnit(),
	}
	for name, options := range units {
		content, err := serializeUnit(options)
		if err != nil {
			return fmt.Errorf("serialize %s: %w", name, err)
		}
		if err := writeFile(filepath.Join(systemdDir, name), content, 0o644); err != nil {
			return err
		}
	}

	if err := writeFile(filepath.Join(tree, "usr/local/bin/fry-first-boot.sh"), firstBootScript, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(tree, "usr/local/bin/fry-status"), statusScript, 0o755); err != nil {
		return err
	}

	return os.MkdirAll(filepath.Join(tree, "var/lib/fry-iot"), 0o755)
}

func serializeUnit(options []*unit.UnitOption) (string, error) {
	content, err := io.ReadAll(unit.Serialize(options))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func fryNodeUnit() []*unit.UnitOption {
	options := append(
		[]*unit.UnitOption{
			unit.NewUnitOption("Unit", "Description", "Fry Network Node"),
			unit.NewUnitOption("Unit", "Documentation", "https://docs.fry.network/"),
			unit.NewUnitOption("Unit", "After", "network-online.target"),
			unit.NewUnitOption("Unit", "Wants", "network-online.target"),
			unit.NewUnitOption("Unit", "StartLimitIntervalSec", "300"),
			unit.NewUnitOption("Unit", "StartLimitBurst", "5"),
			unit.NewUnitOption("Service", "Type", "simple"),
			unit.NewUnitOption("Service", "User", "fry"),
			unit.NewUnitOption("Service", "Group", "fry"),
			unit.NewUnitOption("Service", "ExecStart", "/usr/bin/fry-node --config /etc/fry/config.json"),
			unit.NewUnitOption("Service", "Restart", "always"),
			unit.NewUnitOption("Service", "RestartSec", "10"),
			unit.NewUnitOption("Service", "Environment", "FRY_LOG_LEVEL=info"),
			unit.NewUnitOption("Service", "Environment", "FRY_DATA_DIR=/var/lib/fry"),
		},
		hardeningOptions()...,
	)
	return append(options, unit.NewUnitOption("Install", "WantedBy", "multi-user.target"))
}

func bandwidthMinerUnit() []*unit.UnitOption {
	options := append(
		[]*unit.UnitOption{
			unit.NewUnitOption("Unit", "Description", "Fry Bandwidth Miner"),
			unit.NewUnitOption("Unit", "Documentation", "https://docs.fry.network/bandwidth-mining"),
			unit.NewUnitOption("Unit", "After", "network-online.target fry-node.service"),
			unit.NewUnitOption("Unit", "Wants", "network-online.target"),
			unit.NewUnitOption("Unit", "Requires", "fry-node.service"),
			unit.NewUnitOption("Unit", "StartLimitIntervalSec", "300"),
			unit.NewUnitOption("Unit", "StartLimitBurst", "5"),
			unit.NewUnitOption("Service", "Type", "simple"),
			unit.NewUnitOption("Service", "User", "fry"),
			unit.NewUnitOption("Service", "Group", "fry"),
			unit.NewUnitOption("Service", "ExecStart", "/usr/bin/bandwidth-miner --config /etc/fry/config.json"),
			unit.NewUnitOption("Service", "Restart", "always"),
			unit.NewUnitOption("Service", "RestartSec", "30"),
			unit.NewUnitOption("Service", "Environment", "FRY_LOG_LEVEL=info"),
			unit.NewUnitOption("Service", "Environment", "FRY_DATA_DIR=/var/lib/fry"),
		},
		hardeningOptions()...,
	)
	return append(options,
		unit.NewUnitOption("Service", "MemoryMax", "512M"),
		unit.NewUnitOption("Service", "CPUQuota", "50%"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	)
}

func dashboardUnit() []*unit.UnitOption {
	options := append(
		[]*unit.UnitOption{
			unit.NewUnitOption("Unit", "Description", "Fry Dashboard Web UI"),
			unit.NewUnitOption("Unit", "Documentation", "https://docs.fry.network/dashboard"),
			unit.NewUnitOption("Unit", "After", "network-online.target fry-node.service"),
			unit.NewUnitOption("Unit", "Wants", "network-online.target"),
			unit.NewUnitOption("Service", "Type", "simple"),
			unit.NewUnitOption("Service", "User", "fry"),
			unit.NewUnitOption("Service", "Group", "fry"),
			unit.NewUnitOption("Service", "ExecStart", "/usr/bin/fry-dashboard --port 8080"),
			unit.NewUnitOption("Service", "Restart", "always"),
			unit.NewUnitOption("Service", "RestartSec", "10"),
			unit.NewUnitOption("Service", "Environment", "FRY_DASHBOARD_PORT=8080"),
		},
		hardeningOptions()...,
	)
	return append(options, unit.NewUnitOption("Install", "WantedBy", "multi-user.target"))
}

// hardeningOptions are the privilege-reduction settings shared by the
// long-running fry services.
func hardeningOptions() []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Service", "NoNewPrivileges", "yes"),
		unit.NewUnitOption("Service", "ProtectSystem", "strict"),
		unit.NewUnitOption("Service", "ProtectHome", "yes"),
		unit.NewUnitOption("Service", "ReadWritePaths", "/var/lib/fry /var/log/fry"),
		unit.NewUnitOption("Service", "PrivateTmp", "yes"),
	}
}

func updateTimerUnit() []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "Fry IoT automatic update check"),
		unit.NewUnitOption("Timer", "OnBootSec", "5min"),
		unit.NewUnitOption("Timer", "OnUnitActiveSec", "6h"),
		unit.NewUnitOption("Timer", "RandomizedDelaySec", "30min"),
		unit.NewUnitOption("Install", "WantedBy", "timers.target"),
	}
}

func updateServiceUnit() []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "Fry IoT Update Check"),
		unit.NewUnitOption("Unit", "After", "network-online.target"),
		unit.NewUnitOption("Unit", "Wants", "network-online.target"),
		unit.NewUnitOption("Service", "Type", "oneshot"),
		unit.NewUnitOption("Service", "ExecStart", "/usr/bin/fry-cli update --check"),
		unit.NewUnitOption("Service", "User", "root"),
	}
}

func firstBootUnit() []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "Fry IoT First Boot Setup"),
		unit.NewUnitOption("Unit", "After", "local-fs.target network.target"),
		unit.NewUnitOption("Unit", "Before", "fry-node.service"),
		unit.NewUnitOption("Unit", "ConditionPathExists", "!/var/lib/fry-iot/first-boot-done"),
		unit.NewUnitOption("Service", "Type", "oneshot"),
		unit.NewUnitOption("Service", "ExecStart", "/usr/local/bin/fry-first-boot.sh"),
		unit.NewUnitOption("Service", "RemainAfterExit", "yes"),
		unit.NewUnitOption("Service", "StandardOutput", "journal+console"),
		unit.NewUnitOption("Service", "StandardError", "journal+console"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	}
}

const firstBootScript = `#!/bin/bash
# Fry IoT First Boot Setup

set -e

FRY_STATE_DIR="/var/lib/fry-iot"
FIRST_BOOT_DONE="$FRY_STATE_DIR/first-boot-done"

# Check if first boot already done
if [ -f "$FIRST_BOOT_DONE" ]; then
    echo "First boot already completed."
    exit 0
fi

echo "Running Fry IoT first boot setup..."

# Create necessary directories
mkdir -p /var/lib/fry
mkdir -p /var/log/fry
mkdir -p "$FRY_STATE_DIR"

# Create fry user if not exists
if ! id -u fry &>/dev/null; then
    useradd -r -s /bin/false -d /var/lib/fry -c "Fry Network Node" fry
fi

# Set ownership
chown -R fry:fry /var/lib/fry
chown -R fry:fry /var/log/fry

# Generate SSH host keys if not present
if [ ! -f /etc/ssh/ssh_host_rsa_key ]; then
    echo "Generating SSH host keys..."
    ssh-keygen -A
fi

# Generate machine ID if not present
if [ ! -s /etc/machine-id ]; then
    echo "Generating machine ID..."
    systemd-machine-id-setup
fi

# Resize root partition to fill disk (for SD card installations)
if command -v growpart &> /dev/null; then
    ROOT_DEV=$(findmnt -n -o SOURCE /)
    ROOT_DISK=$(echo "$ROOT_DEV" | sed 's/[0-9]*$//')
    ROOT_PART=$(echo "$ROOT_DEV" | grep -o '[0-9]*$')
    echo "Attempting to expand root partition..."
    growpart "$ROOT_DISK" "$ROOT_PART" 2>/dev/null || true
    resize2fs "$ROOT_DEV" 2>/dev/null || true
fi

# Enable Fry services
echo "Enabling Fry services..."
systemctl enable fry-node.service
systemctl enable bandwidth-miner.service
systemctl enable fry-dashboard.service
systemctl enable fry-update.timer

# Start services
echo "Starting Fry services..."
systemctl start fry-node.service
systemctl start bandwidth-miner.service
systemctl start fry-dashboard.service
systemctl start fry-update.timer

# Register with Fry Network (if fry-node is available)
if command -v fry-node &> /dev/null; then
    echo "Registering with Fry Network..."
    fry-node register || echo "Registration will be attempted on next boot."
fi

# Mark first boot as done
touch "$FIRST_BOOT_DONE"

echo "First boot setup complete!"
echo "Dashboard available at: http://$(hostname -I | awk '{print $1}'):8080"
`

const statusScript = `#!/bin/bash
# Fry IoT Status Check

echo "Fry IoT Status"
echo "=============="
echo ""

echo "System Information:"
echo "  Hostname: $(hostname)"
echo "  IP Address: $(hostname -I | awk '{print $1}')"
echo "  Uptime: $(uptime -p)"
echo ""

echo "Service Status:"
for service in fry-node bandwidth-miner fry-dashboard; do
    status=$(systemctl is-active $service.service 2>/dev/null || echo "not installed")
    printf "  %-20s %s\n" "$service" "$status"
done
echo ""

echo "Resource Usage:"
echo "  Memory: $(free -m | awk 'NR==2{printf "%.1f%% (%dMB/%dMB)", $3*100/$2, $3, $2}')"
echo "  Disk: $(df -h / | awk 'NR==2{print $5 " (" $3 "/" $2 ")"}')"
echo ""

echo "Dashboard: http://$(hostname -I | awk '{print $1}'):8080"
`
