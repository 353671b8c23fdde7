package models

import "github.com/shopspring/decimal"

// TrackingDevice is a camera or sensor that produced tracking files.
type TrackingDevice struct {
	TrackingDevice            string          `gorm:"primaryKey;type:varchar(32)"`
	SamplingRate              decimal.Decimal `gorm:"type:numeric(8,4);not null;comment:(Hz)"`
	TrackingDeviceDescription string          `gorm:"type:varchar(100)"`
}

func (TrackingDevice) TableName() string {
	return "tracking_tracking_device"
}

// TrackingIngestion marks a session whose tracking files have been located.
type TrackingIngestion struct {
	SubjectID string `gorm:"primaryKey;type:varchar(10)"`
	Session   int    `gorm:"primaryKey;autoIncrement:false"`
}

func (TrackingIngestion) TableName() string {
	return "ingestion_tracking_ingestion"
}

type TrackingFile struct {
	SubjectID      string `gorm:"primaryKey;type:varchar(10)"`
	Session        int    `gorm:"primaryKey;autoIncrement:false"`
	Filepath       string `gorm:"primaryKey;type:varchar(255);comment:relative to the root data directory"`
	TrackingDevice string `gorm:"type:varchar(32);not null;index"`
}

func (TrackingFile) TableName() string {
	return "ingestion_tracking_file"
}
