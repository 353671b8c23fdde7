package db

import (
	"ephyspipe/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		// lab
		&models.Person{},
		&models.Rig{},
		&models.Subject{},
		&models.PhotostimDevice{},
		&models.ProbeType{},
		&models.ProbeTypeElectrode{},
		&models.Probe{},
		&models.ElectrodeConfig{},
		&models.ElectrodeConfigGroup{},
		&models.ElectrodeConfigElectrode{},
		// experiment
		&models.Session{},
		&models.SessionTrial{},
		&models.BehaviorTrial{},
		&models.Photostim{},
		&models.PhotostimLocation{},
		&models.PhotostimTrial{},
		&models.PhotostimEvent{},
		&models.PhotostimBrainRegion{},
		// ingestion
		&models.InsertedSession{},
		&models.SessionFile{},
		&models.TrackingDevice{},
		&models.TrackingIngestion{},
		&models.TrackingFile{},
		// ephys
		&models.ProbeInsertion{},
		&models.RecordingSystemSetup{},
		&models.EphysFile{},
		&models.Clustering{},
		&models.Unit{},
		&models.UnitWaveform{},
		&models.TrialSpikes{},
		&models.UnitStat{},
		&models.UnitCellType{},
		// psth
		&models.TrialCondition{},
		&models.UnitPsth{},
		&models.Job{},
	)
}
