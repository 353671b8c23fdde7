package models

import (
	"gorm.io/datatypes"

	"ephyspipe/internal/blob"
)

// TrialCondition is a named trial selection rule: a registered function name
// plus its argument dictionary.
type TrialCondition struct {
	TrialConditionName string         `gorm:"primaryKey;type:varchar(128)"`
	TrialConditionFunc string         `gorm:"type:varchar(36);not null"`
	TrialConditionArgs datatypes.JSON `gorm:"not null"`
	TrialConditionHash string         `gorm:"type:varchar(32);not null;uniqueIndex"`
}

func (TrialCondition) TableName() string {
	return "psth_trial_condition"
}

type UnitPsth struct {
	TrialConditionName string        `gorm:"primaryKey;type:varchar(128)"`
	UnitUID            int64         `gorm:"column:unit_uid;primaryKey;autoIncrement:false"`
	Trials             int           `gorm:"not null"`
	Psth               blob.Float64s `gorm:"comment:(Hz) NULL when no spikes"`
	PsthEdges          blob.Float64s `gorm:"comment:(s) right bin edges"`
}

func (UnitPsth) TableName() string {
	return "psth_unit_psth"
}
