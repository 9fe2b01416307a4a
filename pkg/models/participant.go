package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
)

// ParticipantStatus represents whether a participant takes part in matching
type ParticipantStatus string

const (
	ParticipantStatusActive ParticipantStatus = "active"
	ParticipantStatusPaused ParticipantStatus = "paused"
)

// AgentProfile is the professional profile the participant's agent speaks from
type AgentProfile struct {
	Role      string   `json:"role"`
	Company   string   `json:"company,omitempty"`
	Goals     []string `json:"goals,omitempty"`
	Expertise []string `json:"expertise,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}

// Participant is a person enrolled in overnight matchmaking
type Participant struct {
	ID           uuid.UUID                    `db:"id" json:"id"`
	Handle       string                       `db:"handle" json:"handle"`
	FullName     string                       `db:"full_name" json:"full_name"`
	Email        *string                      `db:"email" json:"email,omitempty"`
	Timezone     *string                      `db:"timezone" json:"timezone,omitempty"`
	AgentProfile database.JSONB[AgentProfile] `db:"agent_profile" json:"agent_profile"`
	Status       ParticipantStatus            `db:"status" json:"status"`
	CreatedAt    time.Time                    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time                    `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Participant) TableName() string {
	return "participants"
}
