package chroot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecComposesChrootInvocation(t *testing.T) {
	var got []string
	executor := &Executor{
		Logger: testLogger(),
		Run: func(ctx context.Context, argv ...string) ([]byte, error) {
			got = argv
			return []byte("ok\n"), nil
		},
	}

	output, err := executor.Exec(context.Background(), "/work/rootfs", "systemctl", "enable", "ssh")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if string(output) != "ok\n" {
		t.Errorf("output = %q", output)
	}

	want := []string{"chroot", "/work/rootfs", "systemctl", "enable", "ssh"}
	if len(got) != len(want) {
		t.Fatalf("argv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExecWrapsFailures(t *testing.T) {
	fail := errors.New("exit status 1")
	executor := &Executor{
		Logger: testLogger(),
		Run: func(ctx context.Context, argv ...string) ([]byte, error) {
			return []byte("update-grub: no such device\n"), fail
		},
	}

	output, err := executor.Exec(context.Background(), "/work/mnt", "update-grub")
	if !errors.Is(err, fail) {
		t.Fatalf("error = %v, want wrapped runner error", err)
	}
	if !strings.Contains(err.Error(), "chroot update-grub") {
		t.Errorf("error %q does not name the command", err)
	}
	// Output survives failure for diagnostics.
	if !strings.Contains(string(output), "no such device") {
		t.Errorf("output = %q", output)
	}
}

func TestExecValidatesArguments(t *testing.T) {
	executor := &Executor{Logger: testLogger(), Run: func(ctx context.Context, argv ...string) ([]byte, error) {
		t.Fatal("runner invoked for invalid arguments")
		return nil, nil
	}}

	if _, err := executor.Exec(context.Background(), "", "ls"); err == nil {
		t.Error("empty tree accepted")
	}
	if _, err := executor.Exec(context.Background(), "/work/rootfs"); err == nil {
		t.Error("empty command accepted")
	}
}
