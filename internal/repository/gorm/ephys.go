package gormrepository

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ephyspipe/internal/blob"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

const (
	unitOfInsertion  = "u.subject_id = %[1]s.subject_id AND u.session = %[1]s.session AND u.insertion_number = %[1]s.insertion_number"
	unitOfClustering = unitOfInsertion + " AND u.clustering_method = %[1]s.clustering_method"
)

func (s *Store) NextUnitUIDTx(ctx context.Context, tx *gorm.DB) (int64, error) {
	if tx == nil {
		return 0, nil
	}
	var n int64
	err := tx.WithContext(ctx).
		Model(&models.Unit{}).
		Select("COALESCE(MAX(unit_uid), 0)").
		Scan(&n).Error
	return n + 1, err
}

// CreateInsertionTx writes every row of one probe insertion. Callers run it
// inside InTx; any failure leaves nothing behind.
func (s *Store) CreateInsertionTx(ctx context.Context, tx *gorm.DB, rec repository.InsertionRecords) error {
	if tx == nil {
		return nil
	}
	db := tx.WithContext(ctx)
	if err := db.Create(&rec.Insertion).Error; err != nil {
		return err
	}
	if err := db.Create(&rec.Setup).Error; err != nil {
		return err
	}
	if err := db.Create(&rec.Clustering).Error; err != nil {
		return err
	}
	if err := createInBatches(db, rec.Units, 100); err != nil {
		return err
	}
	if err := createInBatches(db, rec.Waveforms, 100); err != nil {
		return err
	}
	if err := createInBatches(db, rec.Files, 100); err != nil {
		return err
	}
	return createInBatches(db, rec.TrialSpikes, 300)
}

func (s *Store) ListInsertions(ctx context.Context, params repository.ListInsertionsParams) ([]models.ProbeInsertion, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ProbeInsertion
	if err := insertionQuery(s.db.WithContext(ctx), params).
		Order("subject_id asc, session asc, insertion_number asc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountInsertions(ctx context.Context, params repository.ListInsertionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := insertionQuery(s.db.WithContext(ctx), params).Count(&n).Error
	return n, err
}

func insertionQuery(db *gorm.DB, params repository.ListInsertionsParams) *gorm.DB {
	query := db.Model(&models.ProbeInsertion{})
	if params.SubjectID != nil && strings.TrimSpace(*params.SubjectID) != "" {
		query = query.Where("subject_id = ?", strings.TrimSpace(*params.SubjectID))
	}
	if params.Session != nil {
		query = query.Where("session = ?", *params.Session)
	}
	if params.Probe != nil && strings.TrimSpace(*params.Probe) != "" {
		query = query.Where("probe = ?", strings.TrimSpace(*params.Probe))
	}
	return query
}

func (s *Store) HasInsertions(ctx context.Context, key models.SessionKey) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	return exists(s.db.WithContext(ctx).
		Model(&models.ProbeInsertion{}).
		Where("subject_id = ? AND session = ?", key.SubjectID, key.Session))
}

func (s *Store) GetRecordingSetup(ctx context.Context, key models.InsertionKey) (*models.RecordingSystemSetup, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.RecordingSystemSetup
	ok, err := first(s.db.WithContext(ctx).
		Where("subject_id = ? AND session = ? AND insertion_number = ?", key.SubjectID, key.Session, key.InsertionNumber), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}

// ListClusteringsWithoutTrialSpikes returns clustering runs whose session has
// trials and whose units have no TrialSpikes rows yet.
func (s *Store) ListClusteringsWithoutTrialSpikes(ctx context.Context) ([]models.Clustering, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	const t = "ephys_clustering"
	var items []models.Clustering
	if err := s.db.WithContext(ctx).
		Model(&models.Clustering{}).
		Where("EXISTS (SELECT 1 FROM experiment_session_trial st WHERE st.subject_id = " + t + ".subject_id AND st.session = " + t + ".session)").
		Where("EXISTS (SELECT 1 FROM ephys_unit u WHERE " + fmt.Sprintf(unitOfClustering, t) + ")").
		Where("NOT EXISTS (SELECT 1 FROM ephys_unit u JOIN ephys_trial_spikes ts ON ts.unit_uid = u.unit_uid WHERE " + fmt.Sprintf(unitOfClustering, t) + ")").
		Order(t + ".subject_id asc, " + t + ".session asc, " + t + ".insertion_number asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListUnits(ctx context.Context, params repository.ListUnitsParams) ([]models.Unit, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := unitQuery(s.db.WithContext(ctx), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "unit_uid")
	var items []models.Unit
	if err := query.
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountUnits(ctx context.Context, params repository.ListUnitsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := unitQuery(s.db.WithContext(ctx), params).Count(&n).Error
	return n, err
}

func unitQuery(db *gorm.DB, params repository.ListUnitsParams) *gorm.DB {
	query := db.Model(&models.Unit{})
	if k := params.Insertion; k != nil {
		query = query.Where("subject_id = ? AND session = ? AND insertion_number = ?", k.SubjectID, k.Session, k.InsertionNumber)
	}
	if params.Quality != nil && strings.TrimSpace(*params.Quality) != "" {
		query = query.Where("unit_quality = ?", strings.TrimSpace(*params.Quality))
	}
	if params.ExcludeQuality != nil && strings.TrimSpace(*params.ExcludeQuality) != "" {
		query = query.Where("unit_quality <> ?", strings.TrimSpace(*params.ExcludeQuality))
	}
	return query
}

func (s *Store) ListUnitsTx(ctx context.Context, tx *gorm.DB, key models.ClusteringKey) ([]models.Unit, error) {
	if tx == nil {
		return nil, nil
	}
	var items []models.Unit
	if err := tx.WithContext(ctx).
		Where("subject_id = ? AND session = ? AND insertion_number = ? AND clustering_method = ?",
			key.SubjectID, key.Session, key.InsertionNumber, key.ClusteringMethod).
		Order("unit asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetUnitByUID(ctx context.Context, uid int64) (*models.Unit, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Unit
	ok, err := first(s.db.WithContext(ctx).Where("unit_uid = ?", uid), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetUnitWaveform(ctx context.Context, uid int64) (*models.UnitWaveform, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UnitWaveform
	ok, err := first(s.db.WithContext(ctx).Where("unit_uid = ?", uid), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateTrialSpikesTx(ctx context.Context, tx *gorm.DB, items []models.TrialSpikes) error {
	if tx == nil {
		return nil
	}
	return createInBatches(tx.WithContext(ctx), items, 300)
}

type trialSpikeTrainRow struct {
	Trial      int
	SpikeTimes blob.Float64s
	StartTime  decimal.Decimal
	StopTime   decimal.Decimal
}

func (s *Store) ListTrialSpikeTrains(ctx context.Context, uid int64) ([]repository.TrialSpikeTrain, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []trialSpikeTrainRow
	if err := s.db.WithContext(ctx).
		Table("ephys_trial_spikes AS ts").
		Select("ts.trial, ts.spike_times, st.start_time, st.stop_time").
		Joins("JOIN experiment_session_trial AS st ON st.subject_id = ts.subject_id AND st.session = ts.session AND st.trial = ts.trial").
		Where("ts.unit_uid = ?", uid).
		Order("ts.trial asc").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]repository.TrialSpikeTrain, 0, len(rows))
	for _, r := range rows {
		out = append(out, repository.TrialSpikeTrain{
			Trial:      r.Trial,
			SpikeTimes: []float64(r.SpikeTimes),
			StartTime:  r.StartTime,
			StopTime:   r.StopTime,
		})
	}
	return out, nil
}

// ListTrialSpikes returns the unit's rows restricted to the given trials,
// ordered by trial.
func (s *Store) ListTrialSpikes(ctx context.Context, uid int64, trials []models.TrialKey) ([]models.TrialSpikes, error) {
	if s == nil || s.db == nil || len(trials) == 0 {
		return nil, nil
	}
	want := make(map[models.TrialKey]struct{}, len(trials))
	for _, k := range trials {
		want[k] = struct{}{}
	}
	var rows []models.TrialSpikes
	if err := s.db.WithContext(ctx).
		Where("unit_uid = ?", uid).
		Order("trial asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if _, ok := want[models.TrialKey{SubjectID: r.SubjectID, Session: r.Session, Trial: r.Trial}]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListInsertionsWithoutStats returns insertions with TrialSpikes whose units
// have no UnitStat rows.
func (s *Store) ListInsertionsWithoutStats(ctx context.Context) ([]models.ProbeInsertion, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	const t = "ephys_probe_insertion"
	var items []models.ProbeInsertion
	if err := s.db.WithContext(ctx).
		Model(&models.ProbeInsertion{}).
		Where("EXISTS (SELECT 1 FROM ephys_unit u JOIN ephys_trial_spikes ts ON ts.unit_uid = u.unit_uid WHERE " + fmt.Sprintf(unitOfInsertion, t) + ")").
		Where("NOT EXISTS (SELECT 1 FROM ephys_unit u JOIN ephys_unit_stat us ON us.unit_uid = u.unit_uid WHERE " + fmt.Sprintf(unitOfInsertion, t) + ")").
		Order(t + ".subject_id asc, " + t + ".session asc, " + t + ".insertion_number asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ReplaceUnitStatsTx deletes any existing stats of the given units and
// inserts the new ones.
func (s *Store) ReplaceUnitStatsTx(ctx context.Context, tx *gorm.DB, items []models.UnitStat) error {
	if tx == nil || len(items) == 0 {
		return nil
	}
	uids := make([]int64, 0, len(items))
	for _, it := range items {
		uids = append(uids, it.UnitUID)
	}
	if err := tx.WithContext(ctx).Where("unit_uid IN ?", uids).Delete(&models.UnitStat{}).Error; err != nil {
		return err
	}
	return createInBatches(tx.WithContext(ctx), items, 300)
}

func (s *Store) GetUnitStat(ctx context.Context, uid int64) (*models.UnitStat, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UnitStat
	ok, err := first(s.db.WithContext(ctx).Where("unit_uid = ?", uid), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListUnitsWithoutCellType(ctx context.Context, limit int) ([]models.Unit, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Unit
	if err := s.db.WithContext(ctx).
		Model(&models.Unit{}).
		Where("unit_quality <> ?", models.QualityAll).
		Where("EXISTS (SELECT 1 FROM ephys_unit_waveform w WHERE w.unit_uid = ephys_unit.unit_uid)").
		Where("NOT EXISTS (SELECT 1 FROM ephys_unit_cell_type c WHERE c.unit_uid = ephys_unit.unit_uid)").
		Order("unit_uid asc").
		Limit(normalizeLimit(limit, 500)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateUnitCellType(ctx context.Context, item *models.UnitCellType) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetUnitCellType(ctx context.Context, uid int64) (*models.UnitCellType, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UnitCellType
	ok, err := first(s.db.WithContext(ctx).Where("unit_uid = ?", uid), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}
