package rootfs

import "fmt"

// BootstrapError reports a failed bootstrap invocation. It is fatal for the
// build; the tree may be partially populated and must be rebuilt from scratch.
type BootstrapError struct {
	Arch  string
	Suite string
	Err   error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap %s/%s failed: %v", e.Suite, e.Arch, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// UserSetupError reports a failure while creating accounts inside the tree.
type UserSetupError struct {
	Err error
}

func (e *UserSetupError) Error() string {
	return fmt.Sprintf("user setup failed: %v", e.Err)
}

func (e *UserSetupError) Unwrap() error { return e.Err }
