package models

// PHIAuditRecordModel is an append-only, hash-chained audit entry.
// entry_hash = SHA-256(previous_hash || canonical JSON of details), so
// any edit or deletion inside a chain is detectable by replay.
type PHIAuditRecordModel struct {
	Base
	ChainKey     string  `json:"chain_key"     gorm:"index:idx_phi_audit_chain_seq,unique;not null"`
	Sequence     int64   `json:"sequence"      gorm:"index:idx_phi_audit_chain_seq,unique;not null"`
	Action       string  `json:"action"        gorm:"index;not null"` // scan_clean | blocked_prompt | blocked_response
	RequestID    string  `json:"request_id"    gorm:"index"`
	Details      JSONMap `json:"details"       gorm:"type:longtext"`
	PreviousHash string  `json:"previous_hash" gorm:"type:char(64);not null"`
	EntryHash    string  `json:"entry_hash"    gorm:"type:char(64);not null"`
}

func (PHIAuditRecordModel) TableName() string { return "phi_audit_records" }
