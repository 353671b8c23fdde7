package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

func (s *Store) UpsertPerson(ctx context.Context, item *models.Person) error {
	if s == nil || s.db == nil || item == nil || strings.TrimSpace(item.Username) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"fullname"}),
	}).Create(item).Error
}

func (s *Store) UpsertRig(ctx context.Context, item *models.Rig) error {
	if s == nil || s.db == nil || item == nil || strings.TrimSpace(item.Rig) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rig"}},
		DoUpdates: clause.AssignmentColumns([]string{"room", "rig_description"}),
	}).Create(item).Error
}

func (s *Store) UpsertSubject(ctx context.Context, item *models.Subject) error {
	if s == nil || s.db == nil || item == nil || strings.TrimSpace(item.SubjectID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "cage_number", "date_of_birth", "sex"}),
	}).Create(item).Error
}

func (s *Store) UpsertPhotostimDevice(ctx context.Context, item *models.PhotostimDevice) error {
	if s == nil || s.db == nil || item == nil || strings.TrimSpace(item.PhotostimDevice) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "photostim_device"}},
		DoUpdates: clause.AssignmentColumns([]string{"excitation_wavelength", "photostim_device_description"}),
	}).Create(item).Error
}

func (s *Store) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Subject
	if err := s.db.WithContext(ctx).Order("subject_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// EnsureProbeTypeTx inserts the probe type and its electrode table unless the
// type already exists. It reports whether rows were created.
func (s *Store) EnsureProbeTypeTx(ctx context.Context, tx *gorm.DB, probeType string, electrodes []models.ProbeTypeElectrode) (bool, error) {
	if tx == nil || strings.TrimSpace(probeType) == "" {
		return false, nil
	}
	found, err := exists(tx.WithContext(ctx).Model(&models.ProbeType{}).Where("probe_type = ?", probeType))
	if err != nil || found {
		return false, err
	}
	if err := tx.WithContext(ctx).Create(&models.ProbeType{ProbeType: probeType}).Error; err != nil {
		return false, err
	}
	if err := createInBatches(tx.WithContext(ctx), electrodes, 500); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) EnsureProbeTx(ctx context.Context, tx *gorm.DB, item *models.Probe) error {
	if tx == nil || item == nil || strings.TrimSpace(item.Probe) == "" {
		return nil
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(item).Error
}

func (s *Store) ListProbeTypes(ctx context.Context) ([]models.ProbeType, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ProbeType
	if err := s.db.WithContext(ctx).Order("probe_type asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListProbeTypeElectrodesTx(ctx context.Context, tx *gorm.DB, probeType string, electrodes []int) ([]models.ProbeTypeElectrode, error) {
	if tx == nil || len(electrodes) == 0 {
		return nil, nil
	}
	var items []models.ProbeTypeElectrode
	if err := tx.WithContext(ctx).
		Where("probe_type = ?", probeType).
		Where("electrode IN ?", electrodes).
		Order("electrode asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetElectrodeConfigByHashTx(ctx context.Context, tx *gorm.DB, hash string) (*models.ElectrodeConfig, error) {
	if tx == nil || strings.TrimSpace(hash) == "" {
		return nil, nil
	}
	var item models.ElectrodeConfig
	ok, err := first(tx.WithContext(ctx).Where("electrode_config_hash = ?", hash), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}

// CreateElectrodeConfigTx writes the configuration, its group and its
// electrodes. Callers run it inside InTx so the three land together.
func (s *Store) CreateElectrodeConfigTx(ctx context.Context, tx *gorm.DB, cfg *models.ElectrodeConfig, group models.ElectrodeConfigGroup, electrodes []models.ElectrodeConfigElectrode) error {
	if tx == nil || cfg == nil {
		return nil
	}
	if err := tx.WithContext(ctx).Create(cfg).Error; err != nil {
		return err
	}
	if err := tx.WithContext(ctx).Create(&group).Error; err != nil {
		return err
	}
	return createInBatches(tx.WithContext(ctx), electrodes, 500)
}

func (s *Store) ListElectrodeConfigs(ctx context.Context, params repository.ListElectrodeConfigsParams) ([]models.ElectrodeConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := electrodeConfigQuery(s.db.WithContext(ctx), params)
	var items []models.ElectrodeConfig
	if err := query.
		Order("id asc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountElectrodeConfigs(ctx context.Context, params repository.ListElectrodeConfigsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := electrodeConfigQuery(s.db.WithContext(ctx), params).Count(&n).Error
	return n, err
}

func electrodeConfigQuery(db *gorm.DB, params repository.ListElectrodeConfigsParams) *gorm.DB {
	query := db.Model(&models.ElectrodeConfig{})
	if params.ProbeType != nil && strings.TrimSpace(*params.ProbeType) != "" {
		query = query.Where("probe_type = ?", strings.TrimSpace(*params.ProbeType))
	}
	return query
}

func (s *Store) ListElectrodeConfigElectrodes(ctx context.Context, hash string) ([]models.ElectrodeConfigElectrode, error) {
	if s == nil || s.db == nil || strings.TrimSpace(hash) == "" {
		return nil, nil
	}
	var items []models.ElectrodeConfigElectrode
	if err := s.db.WithContext(ctx).
		Where("electrode_config_hash = ?", hash).
		Order("electrode_group asc, electrode asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
