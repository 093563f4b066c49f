package diskimage

import (
	"context"
	"fmt"
	"strings"

	"github.com/fry-foundation/fry-iot-builder/internal/run"
)

// renderFstab produces the two-line fstab mapping the root and EFI partitions
// by filesystem UUID.
func renderFstab(rootUUID, efiUUID string) string {
	return fmt.Sprintf(`# Fry IoT fstab
UUID=%s    /           ext4    errors=remount-ro   0   1
UUID=%s    /boot/efi   vfat    umask=0077          0   1
`, rootUUID, efiUUID)
}

// filesystemUUID reads the UUID directly from the block device. The mount
// table is not consulted; it may not carry UUIDs for freshly created
// filesystems.
func filesystemUUID(ctx context.Context, runner run.Func, device string) (string, error) {
	output, err := runner(ctx, "blkid", "-s", "UUID", "-o", "value", device)
	if err != nil {
		return "", err
	}
	uuid := strings.TrimSpace(string(output))
	if uuid == "" {
		return "", fmt.Errorf("no UUID reported for %s", device)
	}
	return uuid, nil
}
