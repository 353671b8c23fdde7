package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session t=0 is the start of acquisition on the master device.
type Session struct {
	SubjectID   string `gorm:"primaryKey;type:varchar(10);uniqueIndex:uq_session_datetime,priority:1"`
	Session     int    `gorm:"primaryKey;autoIncrement:false"`
	SessionDate string `gorm:"type:varchar(10);not null;uniqueIndex:uq_session_datetime,priority:2;comment:yyyy-mm-dd"`
	SessionTime string `gorm:"type:varchar(8);not null;uniqueIndex:uq_session_datetime,priority:3;comment:hh:mm:ss"`
	Username    string `gorm:"type:varchar(24)"`
	Rig         string `gorm:"type:varchar(24)"`
}

func (Session) TableName() string {
	return "experiment_session"
}

func (s Session) Key() SessionKey {
	return SessionKey{SubjectID: s.SubjectID, Session: s.Session}
}

// Start parses the session date and time; the zero time is returned when
// either field is malformed.
func (s Session) Start() time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s.SessionDate+" "+s.SessionTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

type SessionTrial struct {
	SubjectID string          `gorm:"primaryKey;type:varchar(10)"`
	Session   int             `gorm:"primaryKey;autoIncrement:false"`
	Trial     int             `gorm:"primaryKey;autoIncrement:false;comment:1-based"`
	TrialUID  int64           `gorm:"column:trial_uid;uniqueIndex;comment:unique across sessions/animals"`
	StartTime decimal.Decimal `gorm:"type:numeric(9,4);not null;comment:(s) relative to session start"`
	StopTime  decimal.Decimal `gorm:"type:numeric(9,4);not null;comment:(s) relative to session start"`
}

func (SessionTrial) TableName() string {
	return "experiment_session_trial"
}

func (t SessionTrial) Key() TrialKey {
	return TrialKey{SubjectID: t.SubjectID, Session: t.Session, Trial: t.Trial}
}

type BehaviorTrial struct {
	SubjectID    string `gorm:"primaryKey;type:varchar(10)"`
	Session      int    `gorm:"primaryKey;autoIncrement:false"`
	Trial        int    `gorm:"primaryKey;autoIncrement:false"`
	Task         string `gorm:"type:varchar(24);not null"`
	TaskProtocol *int
}

func (BehaviorTrial) TableName() string {
	return "experiment_behavior_trial"
}

// InsertedSession records which loader produced a session and where its files live.
type InsertedSession struct {
	SubjectID   string `gorm:"primaryKey;type:varchar(10)"`
	Session     int    `gorm:"primaryKey;autoIncrement:false"`
	LoaderName  string `gorm:"type:varchar(32);not null;index"`
	SessDataDir string `gorm:"type:varchar(255);not null;comment:relative to the root data directory"`
	Basename    string `gorm:"type:varchar(255)"`
}

func (InsertedSession) TableName() string {
	return "ingestion_inserted_session"
}

type SessionFile struct {
	SubjectID string `gorm:"primaryKey;type:varchar(10)"`
	Session   int    `gorm:"primaryKey;autoIncrement:false"`
	Filepath  string `gorm:"primaryKey;type:varchar(255)"`
}

func (SessionFile) TableName() string {
	return "ingestion_session_file"
}
