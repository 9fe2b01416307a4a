package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
)

// PipelineStage names a batch stage for audit records and events
type PipelineStage string

const (
	StagePairGeneration  PipelineStage = "pair_generation"
	StageMatchAnalysis   PipelineStage = "match_analysis"
	StageActivation      PipelineStage = "activation"
	StageConversation    PipelineStage = "conversation"
	StageOutcomeAnalysis PipelineStage = "outcome_analysis"
	StageReportBuild     PipelineStage = "report_build"
	StageReportDispatch  PipelineStage = "report_dispatch"
)

// LogStatus represents the state of a processing log entry
type LogStatus string

const (
	LogStatusStarted   LogStatus = "started"
	LogStatusCompleted LogStatus = "completed"
	LogStatusFailed    LogStatus = "failed"
)

// ProcessingLog is the audit trail row for one stage run
type ProcessingLog struct {
	ID           uuid.UUID                      `db:"id" json:"id"`
	Stage        PipelineStage                  `db:"stage" json:"stage"`
	RefID        *uuid.UUID                     `db:"ref_id" json:"ref_id,omitempty"`
	Status       LogStatus                      `db:"status" json:"status"`
	Detail       database.JSONB[map[string]any] `db:"detail" json:"detail"`
	ErrorMessage *string                        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time                      `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time                     `db:"completed_at" json:"completed_at,omitempty"`
}

// TableName returns the database table name
func (ProcessingLog) TableName() string {
	return "processing_logs"
}
