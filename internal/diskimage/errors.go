package diskimage

import "fmt"

// Stage identifies a step of the image assembly state machine.
type Stage string

const (
	StageAllocate   Stage = "allocate"
	StagePartition  Stage = "partition"
	StageAttach     Stage = "attach"
	StageFormat     Stage = "format"
	StageMount      Stage = "mount"
	StagePopulate   Stage = "populate"
	StageBootloader Stage = "bootloader"
	StageFstab      Stage = "fstab"
)

// StageError reports a failure at a specific step of the state machine.
// Failures at StageAllocate and StagePartition hold no OS resources; every
// other stage fails with the loop device attached, and the builder unwinds
// before the error propagates.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("disk image %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Err: fmt.Errorf(format, args...)}
}
