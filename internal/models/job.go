package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	JobReserved = "reserved"
	JobError    = "error"
)

// Job is a reservation of one populate key by one worker.
type Job struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement"`
	Target       string         `gorm:"column:table_name;type:varchar(64);not null;uniqueIndex:uq_job_key,priority:1"`
	KeyHash      string         `gorm:"type:varchar(32);not null;uniqueIndex:uq_job_key,priority:2"`
	KeyData      datatypes.JSON `gorm:"not null"`
	Status       string         `gorm:"type:varchar(16);not null;index"`
	Owner        string         `gorm:"type:varchar(64);not null"`
	ErrorMessage string         `gorm:"type:varchar(2048)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Job) TableName() string {
	return "jobs"
}
