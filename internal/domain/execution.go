package domain

import (
	"strings"
	"time"
)

// RunStage is the orchestrator's per-mapping state machine.
type RunStage string

const (
	StagePending      RunStage = "PENDING"
	StageExtracting   RunStage = "EXTRACTING"
	StageTransforming RunStage = "TRANSFORMING"
	StageValidating   RunStage = "VALIDATING"
	StageLoading      RunStage = "LOADING"
	StageSuccess      RunStage = "SUCCESS"
	StageFailed       RunStage = "FAILED"
)

// Terminal reports whether the stage admits no further transition.
func (s RunStage) Terminal() bool {
	return s == StageSuccess || s == StageFailed
}

// CanTransitionStage enforces forward-only stage progression. FAILED is
// reachable from any non-terminal stage; SUCCESS only from LOADING.
func CanTransitionStage(current, next RunStage) bool {
	if current == "" || next == "" || current.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	return stageOrder(next) == stageOrder(current)+1
}

func stageOrder(s RunStage) int {
	switch s {
	case StagePending:
		return 0
	case StageExtracting:
		return 1
	case StageTransforming:
		return 2
	case StageValidating:
		return 3
	case StageLoading:
		return 4
	case StageSuccess:
		return 5
	default:
		return -1
	}
}

// RunStatus is the persisted status of one ExecutionRecord.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunSkipped RunStatus = "SKIPPED"
)

func NormalizeRunStatus(value string) RunStatus {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(RunRunning):
		return RunRunning
	case string(RunSuccess):
		return RunSuccess
	case string(RunFailed):
		return RunFailed
	case string(RunSkipped):
		return RunSkipped
	default:
		return ""
	}
}

// ExecutionRecord is one pipeline run of one mapping. Created at run
// start, finalized exactly once at run end, immutable afterwards.
type ExecutionRecord struct {
	ID          string
	BatchID     string
	MappingID   string
	MappingCode string
	Status      RunStatus
	DryRun      bool
	StartedAt   time.Time
	EndedAt     *time.Time
	Extracted   int64
	Transformed int64
	Accepted    int64
	Rejected    int64
	Loaded      int64
	ErrorDetail string
}

// BatchSummary aggregates the execution records of one system run.
type BatchSummary struct {
	BatchID    string
	SystemCode string
	StartedAt  time.Time
	EndedAt    time.Time
	Attempted  int
	Succeeded  int
	Failed     int
	Skipped    int
	RowsLoaded int64
	Records    []ExecutionRecord
}

// Passed reports whether every attempted mapping succeeded.
func (b BatchSummary) Passed() bool {
	return b.Failed == 0
}
