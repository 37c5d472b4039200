package models

import "time"

// Prediction is an immutable snapshot of one AI analysis run.
type Prediction struct {
	ID          string     `bson:"_id" json:"id" gorm:"primaryKey;type:varchar(36)"`
	EventID     string     `bson:"event_id" json:"eventId" gorm:"type:varchar(128);index;not null"`
	Probability float64    `bson:"probability" json:"probability"`
	Reasoning   string     `bson:"reasoning" json:"reasoning" gorm:"type:text"`
	Confidence  Confidence `bson:"confidence" json:"confidence" gorm:"type:varchar(16)"`
	CreatedAt   time.Time  `bson:"created_at" json:"createdAt" gorm:"index"`
}
