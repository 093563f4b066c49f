package diskimage

import (
	"context"
	"errors"
	"testing"
)

func TestRenderFstab(t *testing.T) {
	got := renderFstab("root-1234", "efi-5678")
	want := `# Fry IoT fstab
UUID=root-1234    /           ext4    errors=remount-ro   0   1
UUID=efi-5678    /boot/efi   vfat    umask=0077          0   1
`
	if got != want {
		t.Errorf("fstab mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestFilesystemUUIDTrimsOutput(t *testing.T) {
	runner := func(ctx context.Context, argv ...string) ([]byte, error) {
		return []byte("  abcd-1234\n"), nil
	}
	uuid, err := filesystemUUID(context.Background(), runner, "/dev/loop0p2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uuid != "abcd-1234" {
		t.Errorf("uuid = %q", uuid)
	}
}

func TestFilesystemUUIDRejectsEmptyOutput(t *testing.T) {
	runner := func(ctx context.Context, argv ...string) ([]byte, error) {
		return []byte("\n"), nil
	}
	if _, err := filesystemUUID(context.Background(), runner, "/dev/loop0p1"); err == nil {
		t.Fatal("expected error for empty blkid output")
	}
}

func TestFilesystemUUIDPropagatesRunnerError(t *testing.T) {
	fail := errors.New("blkid: not found")
	runner := func(ctx context.Context, argv ...string) ([]byte, error) {
		return nil, fail
	}
	if _, err := filesystemUUID(context.Background(), runner, "/dev/loop0p1"); !errors.Is(err, fail) {
		t.Fatalf("error = %v, want wrapped runner error", err)
	}
}
