package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ephyspipe/internal/dhash"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

// electrodeGroup is the single group every configuration is written with.
const electrodeGroup = 0

// ElectrodeConfigResolver maps a set of electrodes of one probe type to its
// content-addressed configuration, creating the configuration on first use.
type ElectrodeConfigResolver struct {
	Repo   repository.LabRepository
	Logger *zap.Logger
}

// Resolve runs ResolveTx in its own transaction. When a concurrent writer
// wins the unique hash index, the winner's row is returned.
func (r *ElectrodeConfigResolver) Resolve(ctx context.Context, probeType string, electrodes, unused []int) (models.ElectrodeConfigKey, error) {
	var key models.ElectrodeConfigKey
	err := r.Repo.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		key, err = r.ResolveTx(ctx, tx, probeType, electrodes, unused)
		return err
	})
	if err == nil {
		return key, nil
	}

	hash, herr := r.hash(ctx, probeType, electrodes)
	if herr != nil {
		return key, err
	}
	var winner *models.ElectrodeConfig
	if rerr := r.Repo.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		winner, err = r.Repo.GetElectrodeConfigByHashTx(ctx, tx, hash)
		return err
	}); rerr != nil || winner == nil {
		return key, err
	}
	if r.Logger != nil {
		r.Logger.Info("electrode config created concurrently", zap.String("hash", hash))
	}
	return winner.Key(), nil
}

// ResolveTx looks the configuration up by hash inside tx and inserts it with
// its group and electrodes when absent. Electrodes listed in unused are
// stored with is_used false.
func (r *ElectrodeConfigResolver) ResolveTx(ctx context.Context, tx *gorm.DB, probeType string, electrodes, unused []int) (models.ElectrodeConfigKey, error) {
	ids := uniqueSorted(electrodes)
	if len(ids) == 0 {
		return models.ElectrodeConfigKey{}, fmt.Errorf("electrode config for %q: no electrodes", probeType)
	}
	rows, err := r.Repo.ListProbeTypeElectrodesTx(ctx, tx, probeType, ids)
	if err != nil {
		return models.ElectrodeConfigKey{}, err
	}
	if err := checkElectrodes(probeType, ids, rows); err != nil {
		return models.ElectrodeConfigKey{}, err
	}
	hash := ElectrodeConfigHash(rows)

	existing, err := r.Repo.GetElectrodeConfigByHashTx(ctx, tx, hash)
	if err != nil {
		return models.ElectrodeConfigKey{}, err
	}
	if existing != nil {
		return existing.Key(), nil
	}

	skip := make(map[int]bool, len(unused))
	for _, e := range unused {
		skip[e] = true
	}
	cfg := &models.ElectrodeConfig{
		ProbeType:           probeType,
		ElectrodeConfigName: ConfigName(ids),
		ElectrodeConfigHash: hash,
	}
	members := make([]models.ElectrodeConfigElectrode, len(rows))
	for i, row := range rows {
		members[i] = models.ElectrodeConfigElectrode{
			ElectrodeConfigHash: hash,
			ElectrodeGroup:      electrodeGroup,
			Electrode:           row.Electrode,
			ProbeType:           probeType,
			IsUsed:              !skip[row.Electrode],
		}
	}
	group := models.ElectrodeConfigGroup{ElectrodeConfigHash: hash, ElectrodeGroup: electrodeGroup}
	if err := r.Repo.CreateElectrodeConfigTx(ctx, tx, cfg, group, members); err != nil {
		return models.ElectrodeConfigKey{}, err
	}
	if r.Logger != nil {
		r.Logger.Info("electrode config created",
			zap.String("probe_type", probeType),
			zap.String("name", cfg.ElectrodeConfigName),
			zap.String("hash", hash))
	}
	return cfg.Key(), nil
}

func (r *ElectrodeConfigResolver) hash(ctx context.Context, probeType string, electrodes []int) (string, error) {
	ids := uniqueSorted(electrodes)
	var hash string
	err := r.Repo.InTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.Repo.ListProbeTypeElectrodesTx(ctx, tx, probeType, ids)
		if err != nil {
			return err
		}
		if err := checkElectrodes(probeType, ids, rows); err != nil {
			return err
		}
		hash = ElectrodeConfigHash(rows)
		return nil
	})
	return hash, err
}

func checkElectrodes(probeType string, ids []int, rows []models.ProbeTypeElectrode) error {
	if len(rows) == len(ids) {
		return nil
	}
	found := make(map[int]bool, len(rows))
	for _, row := range rows {
		found[row.Electrode] = true
	}
	var missing []int
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return fmt.Errorf("%w: %q has no electrodes %v", ErrUnknownElectrode, probeType, missing)
}

// ElectrodeConfigHash digests the electrode records keyed by electrode index.
func ElectrodeConfigHash(rows []models.ProbeTypeElectrode) string {
	m := make(map[int]string, len(rows))
	for _, row := range rows {
		m[row.Electrode] = electrodeText(row)
	}
	return dhash.DictToHash(m)
}

func electrodeText(e models.ProbeTypeElectrode) string {
	var b strings.Builder
	b.WriteString("probe_type=" + e.ProbeType)
	b.WriteString(";electrode=" + strconv.Itoa(e.Electrode))
	b.WriteString(";shank=" + strconv.Itoa(e.Shank))
	b.WriteString(";shank_col=" + strconv.Itoa(e.ShankCol))
	b.WriteString(";shank_row=" + strconv.Itoa(e.ShankRow))
	b.WriteString(";x_coord=" + optFloat(e.XCoord))
	b.WriteString(";y_coord=" + optFloat(e.YCoord))
	b.WriteString(";z_coord=" + strconv.FormatFloat(e.ZCoord, 'g', -1, 64))
	return b.String()
}

func optFloat(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// ConfigName collapses sorted electrode indices into "start-end" runs joined
// by "; ", e.g. "1-3; 7-9". A lone electrode renders as "5-5".
func ConfigName(electrodes []int) string {
	ids := uniqueSorted(electrodes)
	if len(ids) == 0 {
		return ""
	}
	var parts []string
	start, prev := ids[0], ids[0]
	for _, e := range ids[1:] {
		if e == prev+1 {
			prev = e
			continue
		}
		parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		start, prev = e, e
	}
	parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
	return strings.Join(parts, "; ")
}

func uniqueSorted(v []int) []int {
	out := append([]int(nil), v...)
	sort.Ints(out)
	n := 0
	for i, x := range out {
		if i == 0 || x != out[n-1] {
			out[n] = x
			n++
		}
	}
	return out[:n]
}
