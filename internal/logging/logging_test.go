package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestBannerShape(t *testing.T) {
	var out strings.Builder
	Banner(&out, "Fry IoT Image Builder")

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("banner has %d lines, want 3:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "╔") || !strings.HasSuffix(lines[0], "╗") {
		t.Errorf("top border = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Fry IoT Image Builder") {
		t.Errorf("title line = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "╚") || !strings.HasSuffix(lines[2], "╝") {
		t.Errorf("bottom border = %q", lines[2])
	}

	top := []rune(lines[0])
	bottom := []rune(lines[2])
	if len(top) != len(bottom) {
		t.Errorf("border widths differ: %d vs %d", len(top), len(bottom))
	}
}

func TestCLIHandlerOutput(t *testing.T) {
	var out strings.Builder
	logger := NewCLI(&out, slog.LevelInfo)

	logger.Info("building image", "profile", "router-x1", "size", 4)

	line := out.String()
	if !strings.HasPrefix(line, "INFO ") {
		t.Errorf("line = %q", line)
	}
	for _, want := range []string{"| building image", "profile=router-x1", "size=4"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestCLIHandlerCarriesWithAttrs(t *testing.T) {
	var out strings.Builder
	logger := NewCLI(&out, slog.LevelInfo).With("component", "diskimage")

	logger.Warn("cleanup step failed", "resource", "loop device")

	line := out.String()
	if !strings.Contains(line, "component=diskimage") || !strings.Contains(line, "resource=loop device") {
		t.Errorf("line = %q", line)
	}
	if !strings.HasPrefix(line, "WARN") {
		t.Errorf("level prefix missing: %q", line)
	}
}

func TestCLIHandlerGroups(t *testing.T) {
	var out strings.Builder
	logger := NewCLI(&out, slog.LevelInfo).WithGroup("build")

	logger.Info("done", "profile", "router")

	if !strings.Contains(out.String(), "build.profile=router") {
		t.Errorf("grouped key missing: %q", out.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var out strings.Builder
	var level slog.LevelVar
	level.Set(slog.LevelWarn)
	logger := NewCLI(&out, &level)

	logger.Info("suppressed")
	if out.Len() != 0 {
		t.Errorf("info emitted below threshold: %q", out.String())
	}

	logger.Error("emitted")
	if !strings.Contains(out.String(), "emitted") {
		t.Errorf("error not emitted: %q", out.String())
	}
}

func TestEnsureFallsBackToDefault(t *testing.T) {
	if Ensure(nil) == nil {
		t.Fatal("Ensure(nil) returned nil")
	}
	logger := NewCLI(&strings.Builder{}, slog.LevelInfo)
	if Ensure(logger) != logger {
		t.Error("Ensure replaced a non-nil logger")
	}
}
