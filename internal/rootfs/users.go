package rootfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fry-foundation/fry-iot-builder/internal/config"
)

const userScriptPath = "tmp/setup-users.sh"

// SetupUsers creates the system accounts inside the tree: the root password,
// the fry operator account, and a passwordless sudo drop-in used during
// first-boot setup. The helper script written into the tree is removed again
// regardless of outcome; it holds a password and must not be baked into the
// image.
func (c *Configurator) SetupUsers(ctx context.Context, cfg *config.BuildConfig, tree string) (err error) {
	script := fmt.Sprintf(`#!/bin/bash
echo 'root:%[1]s' | chpasswd

# Create fry user
useradd -m -s /bin/bash -G sudo,adm,dialout,cdrom,floppy,audio,dip,video,plugdev,netdev fry
echo 'fry:%[1]s' | chpasswd

# Enable passwordless sudo for fry user (for initial setup)
echo 'fry ALL=(ALL) NOPASSWD:ALL' > /etc/sudoers.d/fry
chmod 440 /etc/sudoers.d/fry
`, cfg.RootPassword)

	scriptPath := filepath.Join(tree, userScriptPath)
	if mkdirErr := os.MkdirAll(filepath.Dir(scriptPath), 0o755); mkdirErr != nil {
		return &UserSetupError{Err: fmt.Errorf("create script directory: %w", mkdirErr)}
	}
	if writeErr := os.WriteFile(scriptPath, []byte(script), 0o755); writeErr != nil {
		return &UserSetupError{Err: fmt.Errorf("write setup script: %w", writeErr)}
	}
	defer func() {
		removeErr := os.Remove(scriptPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			removeErr = &UserSetupError{Err: fmt.Errorf("remove setup script: %w", removeErr)}
			err = errors.Join(err, removeErr)
		}
	}()

	if _, execErr := c.Chroot.Exec(ctx, tree, "/"+userScriptPath); execErr != nil {
		return &UserSetupError{Err: execErr}
	}
	return nil
}
