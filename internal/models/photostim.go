package models

import (
	"github.com/shopspring/decimal"

	"ephyspipe/internal/blob"
)

type Photostim struct {
	SubjectID       string           `gorm:"primaryKey;type:varchar(10)"`
	Session         int              `gorm:"primaryKey;autoIncrement:false"`
	PhotoStim       int              `gorm:"primaryKey;autoIncrement:false;comment:protocol number"`
	PhotostimDevice string           `gorm:"type:varchar(20);not null"`
	Power           decimal.Decimal  `gorm:"type:numeric(4,1);not null;comment:mW/mm2"`
	PulseDuration   *decimal.Decimal `gorm:"type:numeric(8,4);comment:(s)"`
	PulseFrequency  *decimal.Decimal `gorm:"type:numeric(8,4);comment:(Hz)"`
	PulsesPerTrain  *int
	Waveform        blob.Float64s `gorm:"comment:normalized to maximal power"`
}

func (Photostim) TableName() string {
	return "experiment_photostim"
}

func (p Photostim) Key() PhotostimKey {
	return PhotostimKey{SubjectID: p.SubjectID, Session: p.Session, PhotoStim: p.PhotoStim}
}

type PhotostimLocation struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement"`
	SubjectID      string          `gorm:"type:varchar(10);not null;index:idx_photostim_location,priority:1"`
	Session        int             `gorm:"not null;index:idx_photostim_location,priority:2"`
	PhotoStim      int             `gorm:"not null;index:idx_photostim_location,priority:3"`
	SkullReference string          `gorm:"type:varchar(60);not null"`
	APLocation     decimal.Decimal `gorm:"column:ap_location;type:numeric(6,2);comment:(um) anterior is positive"`
	MLLocation     decimal.Decimal `gorm:"column:ml_location;type:numeric(6,2);comment:(um) right is positive"`
	Depth          decimal.Decimal `gorm:"type:numeric(6,2);comment:(um) ventral is negative"`
	Theta          decimal.Decimal `gorm:"type:numeric(5,2)"`
	Phi            decimal.Decimal `gorm:"type:numeric(5,2)"`
	BrainArea      string          `gorm:"type:varchar(32);not null"`
}

func (PhotostimLocation) TableName() string {
	return "experiment_photostim_location"
}

type PhotostimTrial struct {
	SubjectID string `gorm:"primaryKey;type:varchar(10)"`
	Session   int    `gorm:"primaryKey;autoIncrement:false"`
	Trial     int    `gorm:"primaryKey;autoIncrement:false"`
}

func (PhotostimTrial) TableName() string {
	return "experiment_photostim_trial"
}

type PhotostimEvent struct {
	SubjectID          string          `gorm:"primaryKey;type:varchar(10)"`
	Session            int             `gorm:"primaryKey;autoIncrement:false"`
	Trial              int             `gorm:"primaryKey;autoIncrement:false"`
	PhotostimEventID   int             `gorm:"primaryKey;autoIncrement:false"`
	PhotoStim          int             `gorm:"not null"`
	PhotostimEventTime decimal.Decimal `gorm:"type:numeric(8,3);comment:(s) relative to trial start"`
	Power              decimal.Decimal `gorm:"type:numeric(4,1)"`
}

func (PhotostimEvent) TableName() string {
	return "experiment_photostim_event"
}

type PhotostimBrainRegion struct {
	SubjectID      string `gorm:"primaryKey;type:varchar(10)"`
	Session        int    `gorm:"primaryKey;autoIncrement:false"`
	PhotoStim      int    `gorm:"primaryKey;autoIncrement:false"`
	StimBrainArea  string `gorm:"type:varchar(32);not null"`
	StimLaterality string `gorm:"type:varchar(8);not null;comment:left|right|both"`
}

func (PhotostimBrainRegion) TableName() string {
	return "experiment_photostim_brain_region"
}
