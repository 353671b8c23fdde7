package models

import (
	"time"

	"ephyspipe/internal/blob"
)

const (
	ClusteringJRCLUSTv3 = "jrclust_v3"
	ClusteringJRCLUSTv4 = "jrclust_v4"
	ClusteringKilosort  = "kilosort"
	ClusteringKilosort2 = "kilosort2"
)

// ClusteringMethods is the closed set of clustering method tags.
var ClusteringMethods = []string{ClusteringJRCLUSTv3, ClusteringKilosort, ClusteringJRCLUSTv4, ClusteringKilosort2}

const (
	QualityGood  = "good"
	QualityOK    = "ok"
	QualityMulti = "multi"
	QualityAll   = "all"
)

var UnitQualities = []string{QualityGood, QualityOK, QualityMulti, QualityAll}

const (
	CellTypeFS  = "FS"
	CellTypePyr = "Pyr"
)

type ProbeInsertion struct {
	SubjectID           string `gorm:"primaryKey;type:varchar(10)"`
	Session             int    `gorm:"primaryKey;autoIncrement:false"`
	InsertionNumber     int    `gorm:"primaryKey;autoIncrement:false"`
	Probe               string `gorm:"type:varchar(32);not null;index"`
	ElectrodeConfigHash string `gorm:"type:varchar(36);not null;index"`
}

func (ProbeInsertion) TableName() string {
	return "ephys_probe_insertion"
}

func (p ProbeInsertion) Key() InsertionKey {
	return InsertionKey{SubjectID: p.SubjectID, Session: p.Session, InsertionNumber: p.InsertionNumber}
}

type RecordingSystemSetup struct {
	SubjectID       string `gorm:"primaryKey;type:varchar(10)"`
	Session         int    `gorm:"primaryKey;autoIncrement:false"`
	InsertionNumber int    `gorm:"primaryKey;autoIncrement:false"`
	SamplingRate    int    `gorm:"not null;comment:(Hz)"`
}

func (RecordingSystemSetup) TableName() string {
	return "ephys_recording_system_setup"
}

type EphysFile struct {
	SubjectID       string `gorm:"primaryKey;type:varchar(10)"`
	Session         int    `gorm:"primaryKey;autoIncrement:false"`
	InsertionNumber int    `gorm:"primaryKey;autoIncrement:false"`
	Filepath        string `gorm:"primaryKey;type:varchar(255)"`
}

func (EphysFile) TableName() string {
	return "ephys_file"
}

type Clustering struct {
	SubjectID        string    `gorm:"primaryKey;type:varchar(10)"`
	Session          int       `gorm:"primaryKey;autoIncrement:false"`
	InsertionNumber  int       `gorm:"primaryKey;autoIncrement:false"`
	ClusteringMethod string    `gorm:"primaryKey;type:varchar(16)"`
	ClusteringTime   time.Time `gorm:"not null;comment:time of generation of this set of clustering results"`
	QualityControl   bool      `gorm:"not null"`
	ManualCuration   bool      `gorm:"not null"`
	ClusteringNote   *string   `gorm:"type:varchar(2000)"`
}

func (Clustering) TableName() string {
	return "ephys_clustering"
}

func (c Clustering) Key() ClusteringKey {
	return ClusteringKey{
		InsertionKey:     InsertionKey{SubjectID: c.SubjectID, Session: c.Session, InsertionNumber: c.InsertionNumber},
		ClusteringMethod: c.ClusteringMethod,
	}
}

// Unit spike times are relative to the first sample used for clustering.
type Unit struct {
	SubjectID           string        `gorm:"primaryKey;type:varchar(10)"`
	Session             int           `gorm:"primaryKey;autoIncrement:false"`
	InsertionNumber     int           `gorm:"primaryKey;autoIncrement:false"`
	ClusteringMethod    string        `gorm:"primaryKey;type:varchar(16)"`
	Unit                int           `gorm:"primaryKey;autoIncrement:false"`
	UnitUID             int64         `gorm:"column:unit_uid;not null;uniqueIndex;comment:unique across sessions/animals"`
	UnitQuality         string        `gorm:"type:varchar(100);not null;index"`
	ElectrodeConfigHash string        `gorm:"type:varchar(36);not null"`
	ElectrodeGroup      int           `gorm:"not null"`
	Electrode           int           `gorm:"not null;comment:site with the largest amplitude"`
	UnitPosX            float64       `gorm:"column:unit_posx;comment:(um) relative to probe tip"`
	UnitPosY            float64       `gorm:"column:unit_posy;comment:(um) relative to probe tip"`
	SpikeTimes          blob.Float64s `gorm:"not null;comment:(s)"`
	SpikeSites          blob.Int64s   `gorm:"not null"`
	SpikeDepths         blob.Float64s `gorm:"not null;comment:(um)"`
	UnitAmp             float64
	UnitSNR             *float64 `gorm:"column:unit_snr"`
}

func (Unit) TableName() string {
	return "ephys_unit"
}

func (u Unit) Key() UnitKey {
	return UnitKey{
		ClusteringKey: ClusteringKey{
			InsertionKey:     InsertionKey{SubjectID: u.SubjectID, Session: u.Session, InsertionNumber: u.InsertionNumber},
			ClusteringMethod: u.ClusteringMethod,
		},
		Unit: u.Unit,
	}
}

type UnitKey struct {
	ClusteringKey
	Unit int
}

type UnitWaveform struct {
	UnitUID  int64         `gorm:"column:unit_uid;primaryKey;autoIncrement:false"`
	Channels int           `gorm:"not null"`
	Samples  int           `gorm:"not null"`
	Waveform blob.Float64s `gorm:"comment:channel-major average spike waveform"`
}

func (UnitWaveform) TableName() string {
	return "ephys_unit_waveform"
}

// Channel returns the samples of one local channel, or nil when out of range.
func (w UnitWaveform) Channel(ch int) []float64 {
	if ch < 0 || ch >= w.Channels || w.Samples <= 0 || len(w.Waveform) < (ch+1)*w.Samples {
		return nil
	}
	return w.Waveform[ch*w.Samples : (ch+1)*w.Samples]
}

type TrialSpikes struct {
	UnitUID    int64         `gorm:"column:unit_uid;primaryKey;autoIncrement:false"`
	SubjectID  string        `gorm:"primaryKey;type:varchar(10)"`
	Session    int           `gorm:"primaryKey;autoIncrement:false"`
	Trial      int           `gorm:"primaryKey;autoIncrement:false"`
	SpikeTimes blob.Float64s `gorm:"not null;comment:(s) relative to trial start"`
}

func (TrialSpikes) TableName() string {
	return "ephys_trial_spikes"
}

type UnitStat struct {
	UnitUID       int64    `gorm:"column:unit_uid;primaryKey;autoIncrement:false"`
	ISIViolation  *float64 `gorm:"column:isi_violation"`
	AvgFiringRate *float64 `gorm:"column:avg_firing_rate;comment:(Hz)"`
	AvgCV2        *float64 `gorm:"column:avg_cv2"`
}

func (UnitStat) TableName() string {
	return "ephys_unit_stat"
}

type UnitCellType struct {
	UnitUID  int64  `gorm:"column:unit_uid;primaryKey;autoIncrement:false"`
	CellType string `gorm:"type:varchar(100);not null"`
}

func (UnitCellType) TableName() string {
	return "ephys_unit_cell_type"
}
