package models

import (
	"time"

	"github.com/google/uuid"
)

// InsightType classifies what the match analysis surfaced for a pair
type InsightType string

const (
	InsightTypeOpportunity   InsightType = "opportunity"
	InsightTypeSynergy       InsightType = "synergy"
	InsightTypeRisk          InsightType = "risk"
	InsightTypeNextStep      InsightType = "next_step"
	InsightTypeHiddenAsset   InsightType = "hidden_asset"
	InsightTypeNetworkEffect InsightType = "network_effect"
)

// insightRelevance holds the fixed relevance prior per insight type
var insightRelevance = map[InsightType]float64{
	InsightTypeNextStep:      0.9,
	InsightTypeSynergy:       0.8,
	InsightTypeOpportunity:   0.7,
	InsightTypeHiddenAsset:   0.6,
	InsightTypeNetworkEffect: 0.5,
	InsightTypeRisk:          0.3,
}

// IsValid reports whether the insight type is a known type
func (t InsightType) IsValid() bool {
	_, ok := insightRelevance[t]
	return ok
}

// Relevance returns the fixed relevance prior for the insight type
func (t InsightType) Relevance() float64 {
	return insightRelevance[t]
}

// Insight is a single finding from a match compatibility analysis
type Insight struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	MatchID     uuid.UUID   `db:"match_id" json:"match_id"`
	Type        InsightType `db:"type" json:"type"`
	Title       string      `db:"title" json:"title"`
	Description string      `db:"description" json:"description"`
	Relevance   float64     `db:"relevance" json:"relevance"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Insight) TableName() string {
	return "insights"
}
