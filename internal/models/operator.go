package models

import "time"

// OperatorModel represents the platform operator account. The first
// registration claims it; afterwards registration is closed.
type OperatorModel struct {
	Base
	Username      string     `json:"username"        gorm:"uniqueIndex;not null"`
	Name          string     `json:"name"`
	Password      string     `json:"-"               gorm:"not null"`
	Mail          string     `json:"mail"`
	LastLoginTime *time.Time `json:"last_login_time"`
	LastLoginIP   string     `json:"last_login_ip"`
	APITokens     []APIToken `json:"api_tokens,omitempty" gorm:"foreignKey:OperatorID"`
}

func (OperatorModel) TableName() string { return "operators" }

// APIToken authenticates calling services against the routing API.
type APIToken struct {
	Base
	OperatorID string     `json:"-"          gorm:"index;not null"`
	Token      string     `json:"token"      gorm:"uniqueIndex;not null"`
	Name       string     `json:"name"`
	ExpiredAt  *time.Time `json:"expired_at"`
}

func (APIToken) TableName() string { return "api_tokens" }
