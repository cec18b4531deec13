package models

import "time"

// OperatorSession tracks signed-in JWT sessions for device/session management.
type OperatorSession struct {
	Base
	OperatorID string     `json:"operator_id" gorm:"index;not null"`
	IP         string     `json:"ip"`
	UA         string     `json:"ua"          gorm:"type:text"`
	ExpiresAt  time.Time  `json:"expires_at"  gorm:"index;not null"`
	RevokedAt  *time.Time `json:"revoked_at"  gorm:"index"`
}

func (OperatorSession) TableName() string { return "operator_sessions" }
