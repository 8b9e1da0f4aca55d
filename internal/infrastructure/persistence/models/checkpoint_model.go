package models

import "time"

// CheckpointModel is the gorm-mapped row for one Checkpoint Manager (C12)
// snapshot.
type CheckpointModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	SessionID    string `gorm:"index;size:64;not null"`
	CreatedAt    time.Time
	Iteration    int
	State        string `gorm:"size:32"`
	MessagesJSON string `gorm:"type:text"`
	PlanJSON     string `gorm:"type:text"`
	TokensUsed   int
}

// TableName specifies the table name.
func (CheckpointModel) TableName() string {
	return "checkpoints"
}
