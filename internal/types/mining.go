package types

import (
	"time"

	"github.com/google/uuid"
)

// MiningTaskType identifies the connector family a mining task targets.
type MiningTaskType string

const (
	MiningTaskWeb        MiningTaskType = "web"
	MiningTaskGitHub     MiningTaskType = "github"
	MiningTaskAcademic   MiningTaskType = "academic"
	MiningTaskYouTube    MiningTaskType = "youtube"
	MiningTaskCodeSearch MiningTaskType = "code_search"
)

// MiningTaskStatus is the persisted lifecycle state of a MiningTask.
type MiningTaskStatus string

const (
	MiningActive    MiningTaskStatus = "active"
	MiningInactive  MiningTaskStatus = "inactive"
	MiningRunning   MiningTaskStatus = "running"
	MiningCompleted MiningTaskStatus = "completed"
	MiningError     MiningTaskStatus = "error"
	MiningCancelled MiningTaskStatus = "cancelled"
)

// allowedMiningTransitions enumerates the status transitions spec permits.
// Terminal states only return to running via re-registration, never via
// CanTransition.
var allowedMiningTransitions = map[MiningTaskStatus]map[MiningTaskStatus]bool{
	MiningActive:    {MiningInactive: true, MiningRunning: true},
	MiningInactive:  {MiningActive: true},
	MiningRunning:   {MiningCompleted: true, MiningError: true, MiningCancelled: true},
	MiningError:     {MiningActive: true},
	MiningCompleted: {},
	MiningCancelled: {},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// MiningTask status transition.
func CanTransition(from, to MiningTaskStatus) bool {
	if from == to {
		return true
	}
	next, ok := allowedMiningTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// MiningTask is a persisted named unit of ingestion work.
type MiningTask struct {
	TaskID       string
	Name         string
	TaskType     MiningTaskType
	Description  string
	SearchParams map[string]any

	Status       MiningTaskStatus
	Priority     Priority
	Dependencies map[string]struct{}
	MaxRetries   int
	RetryCount   int
	Timeout      time.Duration

	Results      map[string]any
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ContextFiles []string

	// AutoShutdown marks this task as one the shutdown supervisor must see
	// terminal (spec §4.12 "Completion" predicate) before it can trigger.
	AutoShutdown bool
}

// NewMiningTask constructs a MiningTask in the "active" status with a
// fresh id.
func NewMiningTask(name string, taskType MiningTaskType, searchParams map[string]any) *MiningTask {
	now := time.Now()
	return &MiningTask{
		TaskID:       uuid.NewString(),
		Name:         name,
		TaskType:     taskType,
		SearchParams: searchParams,
		Status:       MiningActive,
		Priority:     PriorityNormal,
		Dependencies: make(map[string]struct{}),
		MaxRetries:   3,
		Results:      make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// InterconnectionType governs how results propagate across an edge.
type InterconnectionType string

const (
	InterconnectFeed    InterconnectionType = "feed"
	InterconnectFilter  InterconnectionType = "filter"
	InterconnectCombine InterconnectionType = "combine"
	InterconnectSequence InterconnectionType = "sequence"
)

// InterconnectionStatus enables/disables an edge without deleting it.
type InterconnectionStatus string

const (
	InterconnectionActive   InterconnectionStatus = "active"
	InterconnectionInactive InterconnectionStatus = "inactive"
)

// TaskInterconnection is a directed typed edge between two mining tasks.
type TaskInterconnection struct {
	ID           string
	SourceTaskID string
	TargetTaskID string
	Type         InterconnectionType
	Status       InterconnectionStatus
	Description  string
	Metadata     map[string]any
}

// NewTaskInterconnection constructs an active interconnection with a fresh
// id.
func NewTaskInterconnection(sourceID, targetID string, typ InterconnectionType) *TaskInterconnection {
	return &TaskInterconnection{
		ID:           uuid.NewString(),
		SourceTaskID: sourceID,
		TargetTaskID: targetID,
		Type:         typ,
		Status:       InterconnectionActive,
		Metadata:     make(map[string]any),
	}
}
