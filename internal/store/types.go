package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// GoalStatus tracks a Goal through identification, approval, and
// eventual outcome measurement.
type GoalStatus string

const (
	GoalIdentified GoalStatus = "identified"
	GoalApproved   GoalStatus = "approved"
	GoalRejected   GoalStatus = "rejected"
	GoalActive     GoalStatus = "active"
	GoalCompleted  GoalStatus = "completed"
	GoalFailed     GoalStatus = "failed"
)

// Goal is an opportunity the detector surfaced, awaiting or past
// approval.
type Goal struct {
	ID                 string
	Kind               string
	Description        string
	Rationale          string
	EstimatedBudgetUSD  decimal.Decimal
	EstimatedDurationH float64
	Status             GoalStatus
	ImpactScore        float64
	SourceTag          string
	Metadata           string
	IdentifiedAt       time.Time
	ApprovedAt         *time.Time
	ApprovedBy         string
	ApprovalNotes      string
	EffectivenessScore *float64
	OutcomeMeasuredAt  *time.Time
	LearnFrom          bool
}

// ProjectStatus tracks a Project's lifecycle once a Goal is approved.
type ProjectStatus string

const (
	ProjectProposed  ProjectStatus = "proposed"
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectFailed    ProjectStatus = "failed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// Project is the generated plan of tasks that pursues a Goal.
type Project struct {
	ID                 string
	GoalID             string
	Title              string
	Description        string
	Status             ProjectStatus
	BudgetAllocatedUSD decimal.Decimal
	BudgetSpentUSD     decimal.Decimal
	ActualDurationH    *float64
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

// TaskStatus tracks a Task through claim, execution, and completion.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskClaimed   TaskStatus = "claimed"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// TaskPriority influences scheduling order within a ready set.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Task is a single unit of work within a Project.
type Task struct {
	ID                 string
	ProjectID          string
	Kind               string
	Title              string
	Priority           TaskPriority
	Status             TaskStatus
	BudgetAllocatedUSD decimal.Decimal
	Result             string
	Error              string
	Metadata           string
	Attempts           int
	MaxAttempts        int
	NextAttemptAt      *time.Time
	CreatedAt          time.Time
	StartedAt          *time.Time
	FinishedAt         *time.Time
}

// LedgerEntry is one append-only spend record against the daily budget.
type LedgerEntry struct {
	ID        int64
	Ts        time.Time
	ProjectID *string
	TaskID    *string
	AmountUSD decimal.Decimal
	Reason    string
}

// GoalOutcome is the measured effect of a completed Goal, captured once
// the measurement window has elapsed.
type GoalOutcome struct {
	GoalID             string
	BaselineDate       time.Time
	MeasurementDate    time.Time
	BaselineMetrics    string
	OutcomeMetrics     string
	ImpactScore        float64
	ROIScore           float64
	AdoptionScore      float64
	QualityScore       float64
	EffectivenessScore float64
	MeasurementMethod  string
	Notes              string
}

// AuditEvent is an append-only record of a decision or action taken by
// the system, independent of the operational_events table used for
// learner feedback.
type AuditEvent struct {
	ID        int64
	Ts        time.Time
	Actor     string
	EventKind string
	SubjectID string
	Payload   string
}

// OperationalEvent is one operational_events row, tagged by kind and
// read by the opportunity strategies through the Telemetry capability.
// The scheduler and executor do not append these rows, and the feedback
// loop does not read them.
type OperationalEvent struct {
	ID      int64
	Ts      time.Time
	Kind    string
	Reason  string
	Tier    string
	CostUSD decimal.Decimal
	Payload string
}

// KnowledgeEntry tracks how often a written knowledge-base article is
// viewed or referenced, feeding the knowledge-gap opportunity strategy.
type KnowledgeEntry struct {
	Category  string
	Slug      string
	Path      string
	Views     int
	Refs      int
	CreatedAt time.Time
}
