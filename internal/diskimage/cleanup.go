package diskimage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// cleanupStack tracks acquired OS resources (mounts, the loop device) in
// acquisition order. Each acquisition registers its release immediately;
// unwind walks the stack in reverse and attempts every release even when an
// earlier one fails, so one stuck unmount cannot leak the resources behind
// it.
type cleanupStack struct {
	logger  *slog.Logger
	entries []cleanupEntry
}

type cleanupEntry struct {
	name    string
	release func(context.Context) error
}

func (s *cleanupStack) push(name string, release func(context.Context) error) {
	s.entries = append(s.entries, cleanupEntry{name: name, release: release})
}

// unwind releases everything in reverse order. The joined error is returned
// for logging only; callers never let it mask the primary build error.
func (s *cleanupStack) unwind(ctx context.Context) error {
	var joined error
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if err := entry.release(ctx); err != nil {
			s.logger.Warn("cleanup step failed", "resource", entry.name, "error", err)
			joined = errors.Join(joined, fmt.Errorf("release %s: %w", entry.name, err))
			continue
		}
		s.logger.Info("released", "resource", entry.name)
	}
	s.entries = nil
	return joined
}
