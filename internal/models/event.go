package models

import (
	"strings"
	"time"
)

// Confidence is the analyst's self-reported confidence in a probability.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ParseConfidence lowercases s and returns the matching level.
// Anything outside low/medium/high (surrounding whitespace included) is medium.
func ParseConfidence(s string) Confidence {
	switch c := Confidence(strings.ToLower(s)); c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return c
	default:
		return ConfidenceMedium
	}
}

// Event is a prediction-market question tracked by Cloracle.
type Event struct {
	// Identity
	ID   string `bson:"_id" json:"id" gorm:"primaryKey;type:varchar(128)"`
	Slug string `bson:"slug" json:"slug" gorm:"type:varchar(512);uniqueIndex;not null"`

	// Content
	Title       string `bson:"title" json:"title" gorm:"type:text;not null"`
	Description string `bson:"description" json:"description" gorm:"type:text"`
	Category    string `bson:"category" json:"category" gorm:"type:varchar(32);index;not null"`

	// Market state
	MarketProb float64    `bson:"market_prob" json:"marketProb"`
	Volume     *float64   `bson:"volume,omitempty" json:"volume"`
	EndDate    *time.Time `bson:"end_date,omitempty" json:"endDate"`
	ImageURL   *string    `bson:"image_url,omitempty" json:"imageUrl"`

	// AI state, set together by the analysis pipeline
	CloracleProb   *float64    `bson:"cloracle_prob" json:"cloracleProb"`
	CloracleReason *string     `bson:"cloracle_reason" json:"cloracleReason" gorm:"type:text"`
	Confidence     *Confidence `bson:"confidence" json:"confidence" gorm:"type:varchar(16)"`
	AnalyzedAt     *time.Time  `bson:"analyzed_at" json:"analyzedAt"`

	IsActive  bool      `bson:"is_active" json:"isActive" gorm:"index"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt" gorm:"index"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt" gorm:"index"`

	// Populated by read paths that join predictions.
	Predictions []Prediction `bson:"-" json:"predictions,omitempty" gorm:"-"`
}

// IsAnalyzed reports whether the event carries an AI analysis.
func (e *Event) IsAnalyzed() bool {
	return e.CloracleProb != nil && e.CloracleReason != nil
}

// Divergence is the AI probability minus the market probability, or nil.
func (e *Event) Divergence() *float64 {
	if e.CloracleProb == nil {
		return nil
	}
	d := *e.CloracleProb - e.MarketProb
	return &d
}

// Analysis is the AI state written onto an Event in one update.
type Analysis struct {
	Probability float64 // [0,1]
	Reasoning   string
	Confidence  Confidence
	AnalyzedAt  time.Time
}

// MarketUpdate carries the fields the reconciler refreshes on an existing Event.
type MarketUpdate struct {
	Title       string
	Description string
	MarketProb  float64
	Volume      *float64
	EndDate     *time.Time
	ImageURL    *string
	IsActive    bool
}
