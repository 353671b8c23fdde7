package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

func (s *Store) FindSession(ctx context.Context, subjectID, date, clock string) (*models.Session, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Session
	ok, err := first(s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Where("session_date = ?", date).
		Where("session_time = ?", clock), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Session
	ok, err := first(s.db.WithContext(ctx).
		Where("subject_id = ? AND session = ?", key.SubjectID, key.Session), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}

// NextSessionNumberTx returns max(session)+1 for the subject, 1 for a new one.
func (s *Store) NextSessionNumberTx(ctx context.Context, tx *gorm.DB, subjectID string) (int, error) {
	if tx == nil {
		return 0, nil
	}
	var n int
	err := tx.WithContext(ctx).
		Model(&models.Session{}).
		Where("subject_id = ?", subjectID).
		Select("COALESCE(MAX(session), 0)").
		Scan(&n).Error
	return n + 1, err
}

func (s *Store) CreateSessionTx(ctx context.Context, tx *gorm.DB, sess *models.Session, inserted *models.InsertedSession, files []models.SessionFile) error {
	if tx == nil || sess == nil {
		return nil
	}
	if err := tx.WithContext(ctx).Create(sess).Error; err != nil {
		return err
	}
	if inserted != nil {
		if err := tx.WithContext(ctx).Create(inserted).Error; err != nil {
			return err
		}
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}), files, 200)
}

func (s *Store) ListInsertedSessions(ctx context.Context, params repository.ListInsertedSessionsParams) ([]models.InsertedSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	const t = "ingestion_inserted_session"
	query := s.db.WithContext(ctx).Model(&models.InsertedSession{})
	if params.SubjectID != nil && strings.TrimSpace(*params.SubjectID) != "" {
		query = query.Where(t+".subject_id = ?", strings.TrimSpace(*params.SubjectID))
	}
	if params.LoaderName != nil && strings.TrimSpace(*params.LoaderName) != "" {
		query = query.Where(t+".loader_name = ?", strings.TrimSpace(*params.LoaderName))
	}
	if params.WithoutEphys {
		query = query.Where("NOT EXISTS (SELECT 1 FROM ephys_probe_insertion p WHERE p.subject_id = " + t + ".subject_id AND p.session = " + t + ".session)")
	}
	if params.WithoutTracking {
		query = query.Where("NOT EXISTS (SELECT 1 FROM ingestion_tracking_ingestion ti WHERE ti.subject_id = " + t + ".subject_id AND ti.session = " + t + ".session)")
	}
	if params.WithoutTrials {
		query = query.Where("NOT EXISTS (SELECT 1 FROM experiment_session_trial st WHERE st.subject_id = " + t + ".subject_id AND st.session = " + t + ".session)")
	}
	var items []models.InsertedSession
	if err := query.Order(t + ".subject_id asc, " + t + ".session asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) NextTrialUIDTx(ctx context.Context, tx *gorm.DB) (int64, error) {
	if tx == nil {
		return 0, nil
	}
	var n int64
	err := tx.WithContext(ctx).
		Model(&models.SessionTrial{}).
		Select("COALESCE(MAX(trial_uid), 0)").
		Scan(&n).Error
	return n + 1, err
}

func (s *Store) CreateBehaviorTx(ctx context.Context, tx *gorm.DB, rec repository.BehaviorRecords) error {
	if tx == nil {
		return nil
	}
	db := tx.WithContext(ctx)
	if err := createInBatches(db, rec.Trials, 300); err != nil {
		return err
	}
	if err := createInBatches(db, rec.BehaviorTrials, 300); err != nil {
		return err
	}
	if err := createInBatches(db, rec.Photostims, 100); err != nil {
		return err
	}
	if err := createInBatches(db, rec.PhotostimLocations, 100); err != nil {
		return err
	}
	if err := createInBatches(db, rec.PhotostimTrials, 300); err != nil {
		return err
	}
	return createInBatches(db, rec.PhotostimEvents, 300)
}

func (s *Store) HasSessionTrials(ctx context.Context, key models.SessionKey) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	return exists(s.db.WithContext(ctx).
		Model(&models.SessionTrial{}).
		Where("subject_id = ? AND session = ?", key.SubjectID, key.Session))
}

func (s *Store) ListSessionTrials(ctx context.Context, key models.SessionKey) ([]models.SessionTrial, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return s.ListSessionTrialsTx(ctx, s.db, key)
}

func (s *Store) ListSessionTrialsTx(ctx context.Context, tx *gorm.DB, key models.SessionKey) ([]models.SessionTrial, error) {
	if tx == nil {
		return nil, nil
	}
	var items []models.SessionTrial
	if err := tx.WithContext(ctx).
		Where("subject_id = ? AND session = ?", key.SubjectID, key.Session).
		Order("trial asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListBehaviorTrials(ctx context.Context) ([]models.BehaviorTrial, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.BehaviorTrial
	if err := s.db.WithContext(ctx).
		Order("subject_id asc, session asc, trial asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListPhotostimsWithoutRegion returns protocols that have locations but no
// derived brain region yet.
func (s *Store) ListPhotostimsWithoutRegion(ctx context.Context) ([]models.Photostim, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	const t = "experiment_photostim"
	var items []models.Photostim
	if err := s.db.WithContext(ctx).
		Model(&models.Photostim{}).
		Where("EXISTS (SELECT 1 FROM experiment_photostim_location l WHERE l.subject_id = " + t + ".subject_id AND l.session = " + t + ".session AND l.photo_stim = " + t + ".photo_stim)").
		Where("NOT EXISTS (SELECT 1 FROM experiment_photostim_brain_region r WHERE r.subject_id = " + t + ".subject_id AND r.session = " + t + ".session AND r.photo_stim = " + t + ".photo_stim)").
		Order(t + ".subject_id asc, " + t + ".session asc, " + t + ".photo_stim asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPhotostimLocations(ctx context.Context, key models.PhotostimKey) ([]models.PhotostimLocation, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PhotostimLocation
	if err := s.db.WithContext(ctx).
		Where("subject_id = ? AND session = ? AND photo_stim = ?", key.SubjectID, key.Session, key.PhotoStim).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreatePhotostimBrainRegion(ctx context.Context, item *models.PhotostimBrainRegion) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListStimEvents(ctx context.Context) ([]repository.StimEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []repository.StimEvent
	err := s.db.WithContext(ctx).
		Table("experiment_photostim_event AS e").
		Select(`e.subject_id, e.session, e.trial, e.photostim_event_id, e.photo_stim,
			p.photostim_device, e.power, p.pulse_duration, p.pulse_frequency, p.pulses_per_train,
			e.photostim_event_time, r.stim_brain_area, r.stim_laterality`).
		Joins("JOIN experiment_photostim AS p ON p.subject_id = e.subject_id AND p.session = e.session AND p.photo_stim = e.photo_stim").
		Joins("JOIN experiment_photostim_brain_region AS r ON r.subject_id = e.subject_id AND r.session = e.session AND r.photo_stim = e.photo_stim").
		Order("e.subject_id asc, e.session asc, e.trial asc, e.photostim_event_id asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateTrackingIngestionTx upserts the devices and records the session's
// tracking files. Device rows are shared across sessions.
func (s *Store) CreateTrackingIngestionTx(ctx context.Context, tx *gorm.DB, item *models.TrackingIngestion, devices []models.TrackingDevice, files []models.TrackingFile) error {
	if tx == nil || item == nil {
		return nil
	}
	if len(devices) > 0 {
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tracking_device"}},
			DoUpdates: clause.AssignmentColumns([]string{"sampling_rate"}),
		}).Create(&devices).Error; err != nil {
			return err
		}
	}
	if err := tx.WithContext(ctx).Create(item).Error; err != nil {
		return err
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}), files, 200)
}

func (s *Store) ListTrackingFiles(ctx context.Context, key models.SessionKey) ([]models.TrackingFile, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.TrackingFile
	err := s.db.WithContext(ctx).
		Where("subject_id = ? AND session = ?", key.SubjectID, key.Session).
		Order("filepath asc").
		Find(&items).Error
	return items, err
}
