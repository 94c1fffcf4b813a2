package models

import "time"

// SwitchStage is a state of the version switch state machine
type SwitchStage string

const (
	StageIdle            SwitchStage = "idle"
	StageResolvingTarget SwitchStage = "resolving_target"
	StageAcquiring       SwitchStage = "acquiring"
	StageBackingUp       SwitchStage = "backing_up"
	StageRelaunching     SwitchStage = "relaunching"
	StageTerminated      SwitchStage = "terminated"
	StageFailed          SwitchStage = "failed"
)

// SwitchOperation is the transient state of one switch invocation.
// It is never shared across invocations and never persisted.
type SwitchOperation struct {
	ID            string
	TargetTag     string
	Release       *ReleaseInfo
	ArtifactPath  string
	BackupPath    string
	LaunchCommand []string
	Stage         SwitchStage
	StartedAt     time.Time
}
