package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
)

func TestInterrupted(t *testing.T) {
	background := context.Background()
	cancelled, cancel := context.WithCancel(background)
	cancel()

	// A tool killed by the signal reports its exit status, not
	// context.Canceled; the signal context decides.
	toolKilled := fmt.Errorf("run rsync: signal: killed")

	cases := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"cancellation in the chain", background, fmt.Errorf("build: %w", context.Canceled), true},
		{"killed tool under signalled context", cancelled, toolKilled, true},
		{"ordinary failure", background, errors.New("mkfs.ext4: no device"), false},
	}
	for _, tc := range cases {
		if got := interrupted(tc.ctx, tc.err); got != tc.want {
			t.Errorf("%s: interrupted = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for value, want := range cases {
		level, err := parseLogLevel(value)
		if err != nil {
			t.Errorf("parseLogLevel(%q) failed: %v", value, err)
		}
		if level != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", value, level, want)
		}
	}

	if _, err := parseLogLevel("loud"); err == nil {
		t.Error("unknown level accepted")
	}
}
